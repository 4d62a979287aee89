package catalog

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"path/filepath"
)

// TaskID derives the stable task identifier from the five semantic fields.
// Fields are length-prefixed before hashing so no two distinct field tuples
// can collide by concatenation ("ab"+"c" vs "a"+"bc"). The id is independent
// of catalog position: growing the catalog never renumbers existing tasks.
func TaskID(sceneID, hdriName, resolution, format, cameraID string) string {
	h := sha256.New()
	for _, field := range []string{sceneID, hdriName, resolution, format, cameraID} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// OutputPath maps a task to its artifact location. Every identity field
// appears as a distinct path component, so distinct tasks can never share a
// path and the same task always resolves to the same path.
func OutputPath(rendersDir, sceneID, hdriName, resolution, format, cameraID string) string {
	return filepath.Join(rendersDir, sceneID, hdriName, resolution+"_"+format, cameraID+".png")
}
