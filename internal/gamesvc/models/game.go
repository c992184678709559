package models

import (
	"time"
)

// LatestVersion is the image tag that is pulled on every provisioning.
const LatestVersion = "latest"

type Game struct {
	ID          int64     `json:"id"`          // Primary key
	Name        string    `json:"name"`        // Unique, also names the volume and the container
	CreatorID   int64     `json:"creatorId"`   // FK to users(id), never changes
	Creator     *User     `json:"creator"`     // Joined on read
	Version     string    `json:"version"`     // Image tag, "latest" or x.y.z
	TCPPort     int       `json:"tcpPort"`     // Host port bound to the rcon port
	UDPPort     int       `json:"udpPort"`     // Host port bound to the game port
	ContainerID string    `json:"containerId"` // Opaque runtime identifier
	IsOnline    bool      `json:"isOnline"`    // Derived from the container runtime, not persisted
	CreatedAt   time.Time `json:"createdAt"`
}
