package model

// Kind names a directive variant. The value is written to the manifest as
// the "$type" discriminator.
type Kind string

const (
	KindNoMatch            Kind = "NoMatch"
	KindIgnored            Kind = "IgnoredDirectly"
	KindFromArchive        Kind = "FromArchive"
	KindPatchedFromArchive Kind = "PatchedFromArchive"
	KindInlineFile         Kind = "InlineFile"
)

// Directive is the reconstruction instruction for one installed file.
// The set of implementations is closed: NoMatch, Ignored, FromArchive,
// PatchedFromArchive and InlineFile.
type Directive interface {
	Kind() Kind
	Target() RelativePath
	ContentHash() Hash
	FileSize() int64
	directive()
}

// Base carries the fields every directive shares.
type Base struct {
	Type Kind         `json:"$type" yaml:"type"`
	To   RelativePath `json:"to" yaml:"to"`
	Hash Hash         `json:"hash" yaml:"hash"`
	Size int64        `json:"size" yaml:"size"`
}

func (b Base) Kind() Kind           { return b.Type }
func (b Base) Target() RelativePath { return b.To }
func (b Base) ContentHash() Hash    { return b.Hash }
func (b Base) FileSize() int64      { return b.Size }
func (Base) directive()             {}

func baseFor(kind Kind, file SourceFile) Base {
	return Base{Type: kind, To: file.Path, Hash: file.Hash, Size: file.Size}
}

// ArchiveHashPath locates a file inside a downloaded archive: the archive's
// hash followed by one path per nesting level.
type ArchiveHashPath struct {
	BaseHash Hash           `json:"baseHash" yaml:"baseHash"`
	Parts    []RelativePath `json:"parts" yaml:"parts"`
}

// NoMatch is produced when no strategy could place the file.
type NoMatch struct {
	Base   `yaml:",inline"`
	Reason string `json:"reason" yaml:"reason"`
}

// Ignored excludes the file from the modlist.
type Ignored struct {
	Base   `yaml:",inline"`
	Reason string `json:"reason" yaml:"reason"`
}

// FromArchive is byte-identical to a file inside a downloaded archive.
type FromArchive struct {
	Base            `yaml:",inline"`
	ArchiveHashPath ArchiveHashPath `json:"archiveHashPath" yaml:"archiveHashPath"`
}

// PatchedFromArchive is rebuilt by applying the patch blob PatchID to the
// archived file at ArchiveHashPath. FromNode is the content index handle of
// that archived file; it is only meaningful during a compilation run.
type PatchedFromArchive struct {
	Base            `yaml:",inline"`
	ArchiveHashPath ArchiveHashPath `json:"archiveHashPath" yaml:"archiveHashPath"`
	FromHash        Hash            `json:"fromHash" yaml:"fromHash"`
	PatchID         string          `json:"patchID" yaml:"patchID"`
	FromNode        NodeID          `json:"-" yaml:"-"`
}

// InlineFile stores the whole file in the modlist under SourceDataID.
type InlineFile struct {
	Base         `yaml:",inline"`
	SourceDataID string `json:"sourceDataID" yaml:"sourceDataID"`
}

// NewNoMatch returns a NoMatch directive for file.
func NewNoMatch(file SourceFile, reason string) NoMatch {
	return NoMatch{Base: baseFor(KindNoMatch, file), Reason: reason}
}

// NewIgnored returns an Ignored directive for file.
func NewIgnored(file SourceFile, reason string) Ignored {
	return Ignored{Base: baseFor(KindIgnored, file), Reason: reason}
}

// NewFromArchive returns a FromArchive directive for file.
func NewFromArchive(file SourceFile, path ArchiveHashPath) FromArchive {
	return FromArchive{Base: baseFor(KindFromArchive, file), ArchiveHashPath: path}
}

// NewPatchedFromArchive returns a PatchedFromArchive directive whose patch
// has not been built yet.
func NewPatchedFromArchive(file SourceFile, path ArchiveHashPath, from NodeID, fromHash Hash) PatchedFromArchive {
	return PatchedFromArchive{
		Base:            baseFor(KindPatchedFromArchive, file),
		ArchiveHashPath: path,
		FromHash:        fromHash,
		FromNode:        from,
	}
}

// WithPatch returns a copy of d referencing the built patch blob.
func (d PatchedFromArchive) WithPatch(id string) PatchedFromArchive {
	d.PatchID = id
	return d
}

// NewInlineFile returns an InlineFile directive for file. The blob id is
// derived from the content hash so identical files share one blob.
func NewInlineFile(file SourceFile) InlineFile {
	return InlineFile{Base: baseFor(KindInlineFile, file), SourceDataID: file.Hash.String()}
}

// InlineFrom converts a directive that could not be completed into an
// InlineFile carrying the same target.
func InlineFrom(d Directive) InlineFile {
	return InlineFile{
		Base: Base{
			Type: KindInlineFile,
			To:   d.Target(),
			Hash: d.ContentHash(),
			Size: d.FileSize(),
		},
		SourceDataID: d.ContentHash().String(),
	}
}

// ArchiveHash reports the archive a directive draws from, if any.
func ArchiveHash(d Directive) (Hash, bool) {
	switch v := d.(type) {
	case FromArchive:
		return v.ArchiveHashPath.BaseHash, true
	case PatchedFromArchive:
		return v.ArchiveHashPath.BaseHash, true
	default:
		return 0, false
	}
}
