package notifyauth

import (
	"fmt"
	"strings"
)

// Challenge holds the parameters of a Digest authorization header.
type Challenge struct {
	Identity  string
	Realm     string
	Nonce     string
	URI       string
	Response  string
	Algorithm string
}

// ParseHeader parses `Digest username="...", realm="...", nonce="...",
// uri="...", response="...", algorithm=MD5`.
func ParseHeader(header string) (Challenge, error) {
	header = strings.TrimSpace(header)
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Digest") {
		return Challenge{}, fmt.Errorf("%w: not a digest header", ErrSignatureInvalid)
	}

	params, err := splitParams(rest)
	if err != nil {
		return Challenge{}, err
	}

	c := Challenge{
		Identity:  params["username"],
		Realm:     params["realm"],
		Nonce:     params["nonce"],
		URI:       params["uri"],
		Response:  strings.ToLower(params["response"]),
		Algorithm: params["algorithm"],
	}
	if c.Identity == "" || c.Nonce == "" || c.Response == "" {
		return Challenge{}, fmt.Errorf("%w: missing digest parameters", ErrSignatureInvalid)
	}
	return c, nil
}

func splitParams(raw string) (map[string]string, error) {
	params := make(map[string]string)
	var (
		key, value strings.Builder
		inValue    bool
		quoted     bool
	)

	flush := func() error {
		k := strings.ToLower(strings.TrimSpace(key.String()))
		v := strings.TrimSpace(value.String())
		key.Reset()
		value.Reset()
		inValue = false
		if k == "" && v == "" {
			return nil
		}
		if k == "" {
			return fmt.Errorf("%w: malformed digest parameter", ErrSignatureInvalid)
		}
		if _, dup := params[k]; dup {
			return fmt.Errorf("%w: duplicate digest parameter %q", ErrSignatureInvalid, k)
		}
		params[k] = v
		return nil
	}

	for _, r := range raw {
		switch {
		case quoted && r == '"':
			quoted = false
		case quoted:
			value.WriteRune(r)
		case r == '"' && inValue:
			quoted = true
		case r == '=' && !inValue:
			inValue = true
		case r == ',':
			if err := flush(); err != nil {
				return nil, err
			}
		case inValue:
			value.WriteRune(r)
		default:
			key.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote", ErrSignatureInvalid)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return params, nil
}
