package airq

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// TimestampLayout is the capture time encoding used in artifact filenames.
const TimestampLayout = "20060102T150405Z"

const (
	RawExt   = ".json"
	CleanExt = ".parquet"
)

// ArtifactName is the identity encoded in an artifact filename:
// {kind}_{id}_{timestamp}, or {kind}_{timestamp} for kinds without an id.
type ArtifactName struct {
	Kind       Kind
	EntityID   string
	CapturedAt time.Time
}

func (n ArtifactName) stem() string {
	ts := n.CapturedAt.UTC().Format(TimestampLayout)
	if !n.Kind.HasEntityID() {
		return fmt.Sprintf("%s_%s", n.Kind, ts)
	}
	return fmt.Sprintf("%s_%s_%s", n.Kind, n.EntityID, ts)
}

// Raw is the filename of the fetched API response.
func (n ArtifactName) Raw() string {
	return n.stem() + RawExt
}

// Clean is the filename of the transformed table; it mirrors Raw.
func (n ArtifactName) Clean() string {
	return n.stem() + CleanExt
}

// ParseArtifactName decodes a raw or clean artifact filename. Only the base
// name is inspected, so it never touches the filesystem.
func ParseArtifactName(path string) (ArtifactName, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var kind Kind
	for _, k := range Kinds {
		if strings.HasPrefix(stem, string(k)+"_") {
			kind = k
			break
		}
	}
	if kind == "" {
		return ArtifactName{}, fmt.Errorf("filename %q carries no entity kind token", base)
	}

	parts := strings.Split(strings.TrimPrefix(stem, string(kind)+"_"), "_")
	name := ArtifactName{Kind: kind}

	var ts string
	switch {
	case kind.HasEntityID() && len(parts) == 2 && CheckEntityID(kind, parts[0]) == nil:
		name.EntityID, ts = parts[0], parts[1]
	case !kind.HasEntityID() && len(parts) == 1:
		ts = parts[0]
	default:
		return ArtifactName{}, fmt.Errorf("filename %q does not match %s naming", base, kind)
	}

	at, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return ArtifactName{}, fmt.Errorf("filename %q has a malformed timestamp: %w", base, err)
	}
	name.CapturedAt = at
	return name, nil
}

// CheckEntityID verifies that id suits kind: a non-empty string of decimal
// digits for kinds addressed by id, and empty otherwise.
func CheckEntityID(kind Kind, id string) error {
	if !kind.HasEntityID() {
		if id != "" {
			return fmt.Errorf("%s takes no entity id, got %q", kind, id)
		}
		return nil
	}
	if id == "" {
		return fmt.Errorf("%s requires an entity id", kind)
	}
	if err := validate.Var(id, "number"); err != nil {
		return fmt.Errorf("entity id %q is not a decimal number", id)
	}
	return nil
}

// CheckArtifactName verifies that path is an artifact of the wanted kind with
// the wanted extension.
func CheckArtifactName(path string, kind Kind, ext string) (ArtifactName, error) {
	if filepath.Ext(path) != ext {
		return ArtifactName{}, fmt.Errorf("expected %s file, got %q", ext, filepath.Base(path))
	}
	name, err := ParseArtifactName(path)
	if err != nil {
		return ArtifactName{}, err
	}
	if name.Kind != kind {
		return ArtifactName{}, fmt.Errorf("expected %q artifact, got %q", kind, filepath.Base(path))
	}
	return name, nil
}
