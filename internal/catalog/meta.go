package catalog

import (
	"bufio"
	"strings"

	"github.com/StinkyLord/modlist-builder/internal/model"
)

// ParseMeta reads an INI-style sidecar into a key/value map. Keys are
// lowercased; section headers and lines starting with '#' or ';' are
// ignored. A later key overwrites an earlier one.
func ParseMeta(text string) map[string]string {
	meta := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' || line[0] == '[' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		meta[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return meta
}

// InferState derives how an installer can obtain the archive from its
// sidecar keys. A direct URL wins over a mod site reference, which wins
// over a game file marker.
func InferState(meta map[string]string) model.ArchiveState {
	switch {
	case meta["directurl"] != "":
		return model.ArchiveState{Kind: model.StateHTTP, URL: meta["directurl"]}
	case meta["gamename"] != "" && meta["modid"] != "" && meta["fileid"] != "":
		return model.ArchiveState{
			Kind:   model.StateNexus,
			Game:   meta["gamename"],
			ModID:  meta["modid"],
			FileID: meta["fileid"],
		}
	case meta["gamefile"] != "":
		return model.ArchiveState{
			Kind:     model.StateGameFile,
			Game:     meta["gamename"],
			GameFile: meta["gamefile"],
		}
	default:
		return model.ArchiveState{Kind: model.StateUnknown}
	}
}
