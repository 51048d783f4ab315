// Package constants provides shared constants used throughout the riskmap codebase.
// This includes timeouts, retry budgets, reserved catalog names and other values
// that must be consistent across the scanner, transport and governance layers.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DialTimeout is the timeout for establishing a connection to a remote API
	DialTimeout = 10 * time.Second

	// ReadTimeout is the timeout for reading a response from a remote API
	ReadTimeout = 30 * time.Second

	// ScannerTimeout is the per-request timeout used against the scanner API
	ScannerTimeout = 5 * time.Second

	// LoginTimeout is the timeout for the scanner login exchange
	LoginTimeout = 10 * time.Second

	// LogoDownloadTimeout bounds the CDN download of the catalog logo
	LogoDownloadTimeout = 15 * time.Second

	// SchemaSettleDelay is the pause after a typedef mutation before re-reading it.
	// The catalog indexes typedef changes asynchronously.
	SchemaSettleDelay = 2 * time.Second

	// ShutdownTimeout is the time given to graceful shutdown after an error
	ShutdownTimeout = 5 * time.Second
)

// Retry constants
const (
	// MaxRetries is the maximum number of attempts for a single remote call
	MaxRetries = 3

	// MaxRateLimitRetries is the maximum number of 429 waits for a single remote call.
	// Rate-limited responses do not consume the MaxRetries budget.
	MaxRateLimitRetries = 5

	// AbortThreshold is the number of consecutive 403 responses that trips the
	// fail-fast breaker for the remainder of a run
	AbortThreshold = 3
)

// BackoffSchedule is the escalating sleep applied between attempts.
// Index i is the delay after attempt i fails.
var BackoffSchedule = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// Limit constants
const (
	// SearchPageSize is the page size used when paging catalog search results
	SearchPageSize = 100

	// BadgeSearchSize is the number of badges requested when locating existing badges
	BadgeSearchSize = 50

	// PersonaSearchSize is the number of personas requested when choosing a policy target
	PersonaSearchSize = 20

	// ConnectionSearchSize is the number of connections requested for policy resources
	ConnectionSearchSize = 50

	// EntitlementPageSize is the page size used for scanner entitlements
	EntitlementPageSize = 100

	// MaxEntitlementPages caps the number of entitlement pages fetched per object
	MaxEntitlementPages = 10

	// AccountPageSize is the page size requested when listing scanner accounts
	AccountPageSize = 1000

	// LogBodyLimit is the number of response body bytes included in log lines
	LogBodyLimit = 300
)

// Catalog naming constants
const (
	// SchemaDisplayName is the reserved display name of the custom attribute group
	SchemaDisplayName = "TrustLogix Governance"

	// SchemaDescription is the description written on creation of the attribute group
	SchemaDescription = "Security risk and access governance metadata from TrustLogix."

	// TagPrefix is the reserved prefix of every classification created by riskmap
	TagPrefix = "TLX_"

	// TagDisplayWord is the reserved word that marks a classification display name as ours
	TagDisplayWord = "TrustLogix"

	// UnassignedDomain is the sentinel domain name for assets without a resolvable domain
	UnassignedDomain = "Unassigned"

	// PolicyName is the name of the metadata access policy created on a persona
	PolicyName = "TrustLogix Governance - View Custom Metadata"

	// FallbackPolicyResource is used when the catalog reports no connections
	FallbackPolicyResource = "entity:default/snowflake/1768577943"

	// LogoURL is the public location of the TrustLogix logo
	LogoURL = "https://cdn.prod.website-files.com/689aca9a00606d8ac05c62da/68d41cadacdc5e5594480d4b_TrustLogix_favicon_32x32.png"

	// LogoFilename is the filename used when uploading the logo
	LogoFilename = "trustlogix_logo_small.png"

	// PlaceholderHost marks an unconfigured catalog base URL in sample env files
	PlaceholderHost = "your-instance"
)

// Rollup tag category names. Exactly one of these is applied to every synced asset.
const (
	RollupHighRisk = "TrustLogix High Risk"
	RollupRisks    = "TrustLogix Risks Detected"
	RollupVerified = "TrustLogix Data Access Governance Verified"
)

// Status strings written into the scan status attribute
const (
	// VerifiedStatus is the scan status of an asset without risks.
	// The Scan Status badge compares against this exact value.
	VerifiedStatus = "✓ TrustLogix Data Access Governance Verified"

	// VerifiedDetails is the risk details text of an asset without risks
	VerifiedDetails = "No risks detected. TrustLogix data access governance verified."
)

// Format constants
const (
	// TimeFormatScan is the human-readable timestamp written to assets
	TimeFormatScan = "Jan 02, 2006 15:04 UTC"
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)
