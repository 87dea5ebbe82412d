package internal

// ShortID returns a compact prefix of a connection id for log fields.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
