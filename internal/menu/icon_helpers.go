package menu

func cloneIcon(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp
}

// normalizedIcon converts data to the container the platform tray expects.
// The input is returned unchanged when conversion fails.
func normalizedIcon(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	normalized := platformNormalizeIcon(data)
	if len(normalized) == 0 {
		return cloneIcon(data)
	}
	return normalized
}
