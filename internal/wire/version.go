package wire

import "fmt"

// Protocol versions understood by the decoders. Each constant names the first
// version that carries the change.
const (
	MinVersion uint32 = 16
	// VersionThreadID64 widens thread ids from 32 to 64 bits.
	VersionThreadID64 uint32 = 18
	// VersionFibers adds fiber descriptors to the board and a fiber index
	// to event frames.
	VersionFibers uint32 = 19
	// VersionFunctionFlags adds a flags byte to function descriptors.
	VersionFunctionFlags uint32 = 20
	MaxVersion           uint32 = 20

	CurrentVersion = MaxVersion
)

// CheckVersion returns ErrUnsupportedVersion if v is outside of the
// supported range.
func CheckVersion(v uint32) error {
	if v < MinVersion || v > MaxVersion {
		return fmt.Errorf("wire: %w: %d (supported %d..%d)", ErrUnsupportedVersion, v, MinVersion, MaxVersion)
	}
	return nil
}
