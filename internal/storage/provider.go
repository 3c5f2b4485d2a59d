// Package storage reads and creates chunk files under the context root.
package storage

// Provider is the file access the chunk store needs. Paths are slash-separated and
// relative to Root. Chunk files are never rewritten, so there is no update operation.
type Provider interface {
	Root() string
	Read(rel string) ([]byte, error)
	// Create fails with an error matching fs.ErrExist when rel is already taken.
	Create(rel string, content []byte) error
}
