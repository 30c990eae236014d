package builder

// handleCancels removes the commands obsoleted by Cancel and Shutdown
// commands of the same batch. A Shutdown anywhere collapses the batch to
// that Shutdown alone. Otherwise every Cancel survives, and a Validate or
// Load survives unless some Cancel of the batch names its context.
func handleCancels(commands []Command) []Command {
	var tokens []any
	for _, cmd := range commands {
		switch c := cmd.(type) {
		case Shutdown:
			return []Command{c}
		case Cancel:
			tokens = append(tokens, c.Token)
		}
	}

	out := make([]Command, 0, len(commands))
	for _, cmd := range commands {
		token, ok := commandToken(cmd)
		if ok && cancelled(tokens, token) {
			continue
		}
		out = append(out, cmd)
	}
	return out
}

// commandToken returns the token a Cancel has to carry to suppress cmd.
func commandToken(cmd Command) (any, bool) {
	switch c := cmd.(type) {
	case Validate:
		return c.Context, true
	case Load:
		return c.Context, true
	default:
		return nil, false
	}
}

func cancelled(tokens []any, token any) bool {
	for _, t := range tokens {
		if sameToken(t, token) {
			return true
		}
	}
	return false
}
