package store

import "time"

// VCSMode mirrors vcs.Mode without importing internal/vcs, which would
// create an import cycle (internal/vcs.SingleAdapter is satisfied BY a
// ManifestSource this package provides).
type VCSMode string

const (
	VCSModeVCS    VCSMode = "vcs"
	VCSModeSingle VCSMode = "single"
)

// Workspace is a registered project identity (spec §3 Project entity,
// persisted in known_workspaces). ProjectID is stable across renames of
// RepoRoot's containing directories; RepoRoot is always realpath'd before
// storage so two registrations of the same tree on disk collapse to one
// workspace.
type Workspace struct {
	ProjectID    string
	RepoRoot     string
	DefaultRef   string
	VCSMode      VCSMode
	AllowedRoots []string
	RegisteredAt time.Time
}

// Ref is a branch/worktree identity within a project (spec §3 Ref entity).
type Ref struct {
	ProjectID           string
	RefName             string
	HeadCommit          string
	MergeBaseWithDefault string
	LastSyncAt          time.Time
}

// ManifestFile is a file record: one row per (project, ref, path) tracked
// by the indexer (spec §3 File record entity).
type ManifestFile struct {
	ProjectID   string
	Ref         string
	Path        string // repo-relative, forward-slash normalized
	ContentHash string
	Language    string
	Size        int64
}

// SymbolKind enumerates the structural category of a Symbol.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindType      SymbolKind = "type"
	SymbolKindValue     SymbolKind = "value"
	SymbolKindNamespace SymbolKind = "namespace"
	SymbolKindAlias     SymbolKind = "alias"
)

// SymbolRole groups SymbolKind into the coarser role used by ranking and
// policy (spec §3 Symbol entity).
type SymbolRole string

const (
	SymbolRoleType      SymbolRole = "Type"
	SymbolRoleCallable  SymbolRole = "Callable"
	SymbolRoleNamespace SymbolRole = "Namespace"
	SymbolRoleValue     SymbolRole = "Value"
	SymbolRoleAlias     SymbolRole = "Alias"
)

// SymbolRecord is a code symbol extracted by the indexer (spec §3 Symbol
// entity). StableID is location-insensitive by construction: it hashes
// language, kind, qualified name, and signature, never line numbers, so a
// symbol that only moved lines keeps its identity across reindexes.
type SymbolRecord struct {
	ID               int64
	ProjectID        string
	Ref              string
	Path             string
	Name             string
	QualifiedName    string
	Kind             SymbolKind
	Role             SymbolRole
	Visibility       string // omitted (empty) rather than synthesized, per invariant
	Signature        string
	LineStart        int
	LineEnd          int
	ParentSymbolID   int64 // 0 means no parent
	StableID         string
}

// SnippetOrigin distinguishes a symbol-bounded chunk from a fallback
// whole/partial-file chunk produced when no symbol boundary applies.
type SnippetOrigin string

const (
	SnippetOriginSymbol       SnippetOrigin = "symbol"
	SnippetOriginFileFallback SnippetOrigin = "file_fallback"
)

// Snippet is a retrievable chunk of source (spec §3 Snippet entity).
type Snippet struct {
	ID                     int64
	ProjectID              string
	Ref                     string
	Path                   string
	LineStart              int
	LineEnd                int
	Origin                 SnippetOrigin
	ParentSymbolStableID   string // empty when Origin == SnippetOriginFileFallback
	ChunkIndex             int
	Truncated              bool
}

// EdgeType enumerates the kinds of relation a Symbol can participate in.
type EdgeType string

const (
	EdgeTypeCalls   EdgeType = "calls"
	EdgeTypeImports EdgeType = "imports"
	EdgeTypeRefs    EdgeType = "refs"
)

// ConfidenceBucket is the coarse confidence grade the extractor assigns an
// edge; ConfidenceWeight is a fixed function of the bucket (spec §3
// invariant), never stored independent of it.
type ConfidenceBucket string

const (
	ConfidenceHigh   ConfidenceBucket = "high"
	ConfidenceMedium ConfidenceBucket = "medium"
	ConfidenceLow    ConfidenceBucket = "low"
)

// ConfidenceWeight returns the fixed weight mapped to a confidence bucket.
func ConfidenceWeight(bucket ConfidenceBucket) float64 {
	switch bucket {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.6
	case ConfidenceLow:
		return 0.25
	default:
		return 0.0
	}
}

// ResolutionOutcome records whether an edge's target was resolved to a
// known symbol in this project/ref.
type ResolutionOutcome string

const (
	ResolutionInternal ResolutionOutcome = "resolved_internal"
	ResolutionExternal ResolutionOutcome = "external_reference"
	ResolutionUnresolved ResolutionOutcome = "unresolved"
)

// RelationEdge is a directed edge between symbols, or from a symbol to an
// unresolved/external name (spec §3 Relation edge entity). Invariant:
// ToSymbolID is 0 whenever ResolutionOutcome is anything but
// resolved_internal.
type RelationEdge struct {
	ID                int64
	ProjectID         string
	Ref               string
	FromSymbolID      int64
	ToSymbolID        int64 // 0 when unresolved/external
	ToName            string
	EdgeType          EdgeType
	ConfidenceBucket  ConfidenceBucket
	ConfidenceWeight  float64
	Provider          string
	ResolutionOutcome ResolutionOutcome
}

// Tombstone marks a path deleted on ref relative to base (spec §3
// Tombstone entity); committed together with the overlay it belongs to.
type Tombstone struct {
	ProjectID string
	Ref       string
	Path      string
	CreatedAt time.Time
}

// IndexJobStatus is the lifecycle state of an IndexJob.
type IndexJobStatus string

const (
	IndexJobQueued      IndexJobStatus = "queued"
	IndexJobRunning     IndexJobStatus = "running"
	IndexJobPublished   IndexJobStatus = "published"
	IndexJobFailed      IndexJobStatus = "failed"
	IndexJobInterrupted IndexJobStatus = "interrupted"
)

// IndexJobMode distinguishes a full rebuild from an incremental sync.
type IndexJobMode string

const (
	IndexJobModeFull        IndexJobMode = "full"
	IndexJobModeIncremental IndexJobMode = "incremental"
)

// IndexJob tracks one indexing run for a (project, ref) pair (spec §3
// Index job entity). Queued and Running are the only statuses that count
// against the at-most-one-active-job-per-(project,ref) invariant enforced
// by StartIndexJob.
type IndexJob struct {
	ID        int64
	ProjectID string
	Ref       string
	Mode      IndexJobMode
	Status    IndexJobStatus
	Progress  float64
	SyncID    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// EnrichmentStatus is the lifecycle state of one enrichment queue row.
type EnrichmentStatus string

const (
	EnrichmentPending EnrichmentStatus = "pending"
	EnrichmentRunning EnrichmentStatus = "running"
	EnrichmentDone    EnrichmentStatus = "done"
	EnrichmentFailed  EnrichmentStatus = "failed"
)

// EnrichmentItem is one row of the semantic enrichment backlog (spec §3
// Enrichment queue row entity). Invariant: within (project, ref, path),
// the highest Generation supersedes any older row still pending/running
// — enqueuing a new generation for an in-flight path is a coalesce, not a
// second row.
type EnrichmentItem struct {
	ID         int64
	ProjectID  string
	Ref        string
	Path       string
	Generation int64
	Status     EnrichmentStatus
	Retries    int
	Error      string
}

// FileCentrality is the per-file scalar in [0,1] computed from resolved
// inter-file edges only (spec §3 File centrality entity).
type FileCentrality struct {
	ProjectID string
	Ref       string
	Path      string
	Score     float64
}
