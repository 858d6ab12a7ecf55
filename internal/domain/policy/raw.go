package policy

import "encoding/json"

// RawExtra is an opaque JSON fragment carried through reads and writes
// byte-for-byte. It is never interpreted by this engine.
type RawExtra = json.RawMessage

// cloneRaw deep-copies an opaque fragment.
func cloneRaw(r RawExtra) RawExtra {
	if r == nil {
		return nil
	}
	return append(RawExtra(nil), r...)
}
