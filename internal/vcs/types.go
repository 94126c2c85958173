package vcs

import "sort"

// Mode distinguishes a project backed by a real VCS from one running in
// single-version (no VCS) fallback. See Project.VCSMode.
type Mode string

const (
	ModeVCS    Mode = "vcs"
	ModeSingle Mode = "single"
)

// ChangeStatus classifies one entry of a Delta.
type ChangeStatus string

const (
	StatusAdded    ChangeStatus = "added"
	StatusModified ChangeStatus = "modified"
	StatusDeleted  ChangeStatus = "deleted"
	StatusRenamed  ChangeStatus = "renamed"
)

// ChangedFile is one path affected between two refs. OldPath is set only
// when Status is StatusRenamed.
type ChangedFile struct {
	Path    string
	OldPath string
	Status  ChangeStatus
}

// Delta is the result of diff_name_status(ref, base): everything needed
// to decide which overlay entries to re-extract, delete, or tombstone.
type Delta struct {
	BaseRef string
	HeadRef string
	Files   []ChangedFile
}

// HasChanges reports whether the delta touched any file.
func (d *Delta) HasChanges() bool {
	return d != nil && len(d.Files) > 0
}

// DeltaStats summarizes a Delta for logging and sync diagnostics.
type DeltaStats struct {
	Added    int
	Modified int
	Deleted  int
	Renamed  int
	Total    int
}

// Stats computes summary counts for the delta.
func (d *Delta) Stats() DeltaStats {
	var s DeltaStats
	for _, f := range d.Files {
		switch f.Status {
		case StatusAdded:
			s.Added++
		case StatusModified:
			s.Modified++
		case StatusDeleted:
			s.Deleted++
		case StatusRenamed:
			s.Renamed++
		}
	}
	s.Total = len(d.Files)
	return s
}

// ExpandRenames flattens StatusRenamed entries into a delete of OldPath
// plus an add of Path, per the adapter's failure policy: "rename is
// always represented as delete-old + add-new downstream." Callers that
// only care about which paths need re-extraction versus tombstoning
// should consume this instead of Files directly.
func (d *Delta) ExpandRenames() []ChangedFile {
	out := make([]ChangedFile, 0, len(d.Files)+d.Stats().Renamed)
	for _, f := range d.Files {
		if f.Status == StatusRenamed {
			out = append(out, ChangedFile{Path: f.OldPath, Status: StatusDeleted})
			out = append(out, ChangedFile{Path: f.Path, Status: StatusAdded})
			continue
		}
		out = append(out, f)
	}
	return out
}

// sortFiles gives deterministic, stable ordering by path, then status.
func sortFiles(files []ChangedFile) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].Path != files[j].Path {
			return files[i].Path < files[j].Path
		}
		return files[i].Status < files[j].Status
	})
}
