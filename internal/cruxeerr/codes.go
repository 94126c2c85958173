// Package cruxeerr provides the structured error type used across cruxe's
// core components, plus the canonical tool-call error codes from the
// external interface contract.
//
// Canonical codes are stable strings returned on the wire; internal codes
// (prefixed ERR_) exist only for richer local classification and never
// cross the tool-call boundary directly — they are mapped to a canonical
// code at the response boundary in internal/mcp.
package cruxeerr

// Category classifies an error for logging and recovery-policy decisions.
type Category string

const (
	CategoryInput       Category = "INPUT"
	CategoryWorkspace   Category = "WORKSPACE"
	CategoryIndex       Category = "INDEX"
	CategoryConcurrency Category = "CONCURRENCY"
	CategoryTransient   Category = "TRANSIENT"
	CategorySemantic    Category = "SEMANTIC"
	CategoryPolicy      Category = "POLICY"
	CategoryInternal    Category = "INTERNAL"
)

// Severity mirrors the taxonomy's recovery posture for an error.
type Severity string

const (
	SeverityFatal   Severity = "FATAL"
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Canonical error codes, identical across transports per spec §6.
const (
	CodeInvalidInput           = "invalid_input"
	CodeProjectNotFound        = "project_not_found"
	CodeIndexInProgress        = "index_in_progress"
	CodeIndexIncompatible      = "index_incompatible"
	CodeWorkspaceNotRegistered = "workspace_not_registered"
	CodeWorkspaceNotAllowed    = "workspace_not_allowed"
	CodeSyncInProgress         = "sync_in_progress"
	CodeIndexStale             = "index_stale"
	CodeInternalError          = "internal_error"

	// Remediation-shaped, non-canonical-but-well-known variants surfaced in
	// schema_status (spec §6) rather than as top-level error codes.
	CodeReindexRequired = "reindex_required"
	CodeCorruptManifest = "corrupt_manifest"

	// Internal-only codes, never returned on the wire directly.
	CodeVCSFailure            = "ERR_VCS_FAILURE"
	CodeSemanticUnavailable   = "ERR_SEMANTIC_UNAVAILABLE"
	CodeSemanticTimeout       = "ERR_SEMANTIC_TIMEOUT"
	CodePolicyLoadFailure     = "ERR_POLICY_LOAD_FAILURE"
	CodeStoreConnectionFailed = "ERR_STORE_CONNECTION_FAILED"
)

var categoryByCode = map[string]Category{
	CodeInvalidInput:           CategoryInput,
	CodeProjectNotFound:        CategoryWorkspace,
	CodeIndexInProgress:        CategoryIndex,
	CodeIndexIncompatible:      CategoryIndex,
	CodeWorkspaceNotRegistered: CategoryWorkspace,
	CodeWorkspaceNotAllowed:    CategoryWorkspace,
	CodeSyncInProgress:         CategoryConcurrency,
	CodeIndexStale:             CategoryIndex,
	CodeInternalError:          CategoryInternal,
	CodeReindexRequired:        CategoryIndex,
	CodeCorruptManifest:        CategoryIndex,
	CodeVCSFailure:             CategoryTransient,
	CodeSemanticUnavailable:    CategorySemantic,
	CodeSemanticTimeout:        CategorySemantic,
	CodePolicyLoadFailure:      CategoryPolicy,
	CodeStoreConnectionFailed:  CategoryTransient,
}

var retryableCodes = map[string]bool{
	CodeVCSFailure:            true,
	CodeSemanticTimeout:       true,
	CodeStoreConnectionFailed: true,
	CodeSyncInProgress:        true,
}

var fatalCodes = map[string]bool{
	CodeCorruptManifest: true,
}

func categoryFromCode(code string) Category {
	if c, ok := categoryByCode[code]; ok {
		return c
	}
	return CategoryInternal
}

func severityFromCode(code string) Severity {
	if fatalCodes[code] {
		return SeverityFatal
	}
	if retryableCodes[code] {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
