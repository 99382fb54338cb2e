package domain

// Source tags the backend a collection copy was read from.
type Source string

const (
	SourceCache       Source = "cache"
	SourcePrimaryFile Source = "primary-file"
	SourceBackupFile  Source = "backup-file"
	SourceRemote      Source = "remote"
	SourceRecovery    Source = "recovery"
	SourceNone        Source = "none"
)

// tiePriority orders sources when record counts are equal; lower wins.
var tiePriority = map[Source]int{
	SourceCache:       0,
	SourcePrimaryFile: 1,
	SourceBackupFile:  2,
	SourceRemote:      3,
}

// Outranks reports whether s wins a count tie against other.
func (s Source) Outranks(other Source) bool {
	ps, ok := tiePriority[s]
	if !ok {
		return false
	}
	po, ok := tiePriority[other]
	if !ok {
		return true
	}
	return ps < po
}

// Copy is one backend's answer to a load poll.
type Copy struct {
	Kind       Kind
	Source     Source
	Collection Collection
	Count      int
}

// NewCopy builds a Copy, deriving Count from the collection.
func NewCopy(kind Kind, src Source, c Collection) Copy {
	return Copy{Kind: kind, Source: src, Collection: c, Count: len(c)}
}

// SaveStatus says how durably a save landed.
type SaveStatus string

const (
	// SaveDurable means the primary file or the remote store accepted the write.
	SaveDurable SaveStatus = "durable"
	// SaveRescuedOnly means only an emergency rescue dump holds the data on disk.
	SaveRescuedOnly SaveStatus = "rescued_only"
	// SaveSessionOnly means only the session cache holds the data.
	SaveSessionOnly SaveStatus = "session_only"
)

// SaveResult reports the outcome of a save fan-out.
type SaveResult struct {
	Status     SaveStatus `json:"status"`
	FileOK     bool       `json:"file_ok"`
	RemoteOK   bool       `json:"remote_ok"`
	RescuePath string     `json:"rescue_path,omitempty"`
	Records    Collection `json:"records"`
}

// Phase is a position in the per-kind collection lifecycle.
type Phase string

const (
	PhaseUnloaded   Phase = "unloaded"
	PhaseLoaded     Phase = "loaded"
	PhaseReconciled Phase = "reconciled"
	PhaseSaved      Phase = "saved"
)

// CollectionState is the lifecycle state of one kind's collection.
// Source is set from PhaseLoaded on; Status only in PhaseSaved.
type CollectionState struct {
	Phase  Phase      `json:"phase"`
	Source Source     `json:"source,omitempty"`
	Status SaveStatus `json:"status,omitempty"`
	Count  int        `json:"count"`
}
