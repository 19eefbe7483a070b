//go:build !windows

package menu

// PNG is accepted as is outside Windows.
func platformNormalizeIcon(data []byte) []byte {
	return data
}
