// Package secrets parses master keys and derives per-purpose keys from them
// with HKDF-SHA256.
//
//	master, err := secrets.ParseKey(os.Getenv("INGEST_MASTER_KEY"))
//	if err != nil {
//	    return err
//	}
//	key, err := secrets.DeriveKey(master, "github")
//
// The ingest server signs and verifies each source with its own derived key, so
// operators hand out one key per sender while keeping a single master secret.
package secrets
