package allocator

import "strings"

// PreviousSuffix marks the container set aside while a game moves to another
// version. '.' never appears in a game name.
const PreviousSuffix = ".previous"

// Namer derives runtime names from game names. Container names are the
// namespace, an underscore and the game name; volumes are named after the
// game itself and live under the configured volume root.
type Namer struct {
	Namespace string
}

func NewNamer(namespace string) Namer {
	return Namer{Namespace: namespace}
}

func (n Namer) prefix() string {
	return n.Namespace + "_"
}

func (n Namer) ContainerName(game string) string {
	return n.prefix() + game
}

func (n Namer) PreviousContainerName(game string) string {
	return n.ContainerName(game) + PreviousSuffix
}

// SetAside reports whether a game name returned by GameName belongs to a
// container parked by a version change, and which game it was parked for.
func (n Namer) SetAside(name string) (string, bool) {
	return strings.CutSuffix(name, PreviousSuffix)
}

// GameName strips the namespace prefix from a container name. ok is false
// when the container does not belong to this namespace.
func (n Namer) GameName(container string) (string, bool) {
	container = strings.TrimPrefix(container, "/")
	name, ok := strings.CutPrefix(container, n.prefix())
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func (n Namer) VolumeName(game string) string {
	return game
}
