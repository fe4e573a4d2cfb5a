package model

// StateKind names how an archive can be obtained at install time.
type StateKind string

const (
	StateNexus    StateKind = "nexus"
	StateHTTP     StateKind = "http"
	StateGameFile StateKind = "gamefile"
	StateUnknown  StateKind = "unknown"
)

// ArchiveState is the download provenance inferred from an archive's
// sidecar metadata.
type ArchiveState struct {
	Kind     StateKind `json:"kind" yaml:"kind"`
	Game     string    `json:"game,omitempty" yaml:"game,omitempty"`
	ModID    string    `json:"modID,omitempty" yaml:"modID,omitempty"`
	FileID   string    `json:"fileID,omitempty" yaml:"fileID,omitempty"`
	URL      string    `json:"url,omitempty" yaml:"url,omitempty"`
	GameFile string    `json:"gameFile,omitempty" yaml:"gameFile,omitempty"`
}

// Known reports whether an installer could fetch the archive.
func (s ArchiveState) Known() bool {
	return s.Kind != "" && s.Kind != StateUnknown
}

// SelectedArchive is a downloaded archive referenced by at least one
// directive.
type SelectedArchive struct {
	Hash    Hash              `json:"hash" yaml:"hash"`
	Name    string            `json:"name" yaml:"name"`
	Size    int64             `json:"size" yaml:"size"`
	Meta    map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
	RawMeta string            `json:"rawMeta,omitempty" yaml:"rawMeta,omitempty"`
	State   ArchiveState      `json:"state" yaml:"state"`
}

// Metadata is the free-text description of a modlist.
type Metadata struct {
	Name        string `json:"name" yaml:"name"`
	Author      string `json:"author" yaml:"author"`
	Description string `json:"description" yaml:"description"`
	Readme      string `json:"readme" yaml:"readme"`
	Image       string `json:"image,omitempty" yaml:"image,omitempty"`
	Website     string `json:"website,omitempty" yaml:"website,omitempty"`
	Version     string `json:"version" yaml:"version"`
	NSFW        bool   `json:"nsfw" yaml:"nsfw"`
}

// Manifest is the exported package description consumed by an installer.
type Manifest struct {
	Game        string `json:"game" yaml:"game"`
	ToolVersion string `json:"toolVersion" yaml:"toolVersion"`
	Metadata    `yaml:",inline"`
	Archives    []SelectedArchive `json:"archives" yaml:"archives"`
	Directives  []Directive       `json:"directives" yaml:"directives"`
}
