package service

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/avvvet/gamehost-services/internal/gamesvc/allocator"
	"github.com/avvvet/gamehost-services/internal/gamesvc/apperr"
	"github.com/avvvet/gamehost-services/internal/gamesvc/models"
)

const (
	minNameLength     = 3
	maxNameLength     = 40
	minPasswordLength = 6
	maxAdminLength    = 60
)

var (
	// game names become container and directory names
	gameNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	versionPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

func normalizeGameName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return "", apperr.Newf(apperr.Validation, "Game name must be between %d and %d characters", minNameLength, maxNameLength)
	}
	if !gameNamePattern.MatchString(name) {
		return "", apperr.New(apperr.Validation, "Game name may only contain letters, digits, '-' and '_'")
	}
	return name, nil
}

// normalizeVersion maps the empty string to latest.
func normalizeVersion(version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" || version == models.LatestVersion {
		return models.LatestVersion, nil
	}
	if !versionPattern.MatchString(version) {
		return "", apperr.Newf(apperr.Validation, "Version must be %q or of the form x.y.z", models.LatestVersion)
	}
	return version, nil
}

func validateCredentials(username, password string) error {
	if n := utf8.RuneCountInString(username); n < minNameLength || n > maxNameLength {
		return apperr.Newf(apperr.Validation, "Username must be between %d and %d characters", minNameLength, maxNameLength)
	}
	if strings.TrimSpace(username) != username {
		return apperr.New(apperr.Validation, "Username must not start or end with whitespace")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return apperr.Newf(apperr.Validation, "Password must be at least %d characters", minPasswordLength)
	}
	return nil
}

// validatePorts checks explicitly requested ports, zero means allocate.
func validatePorts(tcpPort, udpPort int) error {
	for _, port := range []int{tcpPort, udpPort} {
		if port != 0 && !allocator.InRange(port) {
			return apperr.Newf(apperr.Validation, "Port %d is outside %d-%d", port, allocator.MinPort, allocator.MaxPort)
		}
	}
	if tcpPort != 0 && tcpPort == udpPort {
		return apperr.New(apperr.Validation, "TCP and UDP ports must differ")
	}
	return nil
}

func normalizeAdmin(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxAdminLength {
		return "", apperr.Newf(apperr.Validation, "Admin name must be between 1 and %d characters", maxAdminLength)
	}
	return username, nil
}
