package detectors

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ErrIncompatibleArtifact is returned when a backend artifact was written by a
// format version the backend cannot read.
var ErrIncompatibleArtifact = errors.New("incompatible backend artifact version")

type artifactEnvelope struct {
	Version string
	Body    []byte
}

// EncodeArtifact gob-encodes payload inside an envelope tagged with version.
func EncodeArtifact(version string, payload any) ([]byte, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("artifact version %q: %w", version, err)
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode artifact body: %w", err)
	}

	var buf bytes.Buffer
	env := artifactEnvelope{Version: version, Body: body.Bytes()}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encode artifact envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeArtifact reads an envelope written by EncodeArtifact, checks its
// version against constraint (e.g. "^1.0") and decodes the body into payload.
// It returns the version found in the envelope.
func DecodeArtifact(data []byte, constraint string, payload any) (string, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", fmt.Errorf("artifact constraint %q: %w", constraint, err)
	}

	var env artifactEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return "", fmt.Errorf("decode artifact envelope: %w", err)
	}

	v, err := semver.NewVersion(env.Version)
	if err != nil {
		return "", fmt.Errorf("%w: malformed version %q", ErrIncompatibleArtifact, env.Version)
	}
	if !c.Check(v) {
		return "", fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleArtifact, v, constraint)
	}

	if err := gob.NewDecoder(bytes.NewReader(env.Body)).Decode(payload); err != nil {
		return "", fmt.Errorf("decode artifact body: %w", err)
	}
	return env.Version, nil
}
