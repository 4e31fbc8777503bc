package account

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mcoot/ratingledger/internal/model"
)

// Limits on public profile fields
const (
	maxURLLength   = 2048
	maxStatusRunes = 140
	maxSocialLinks = 8
)

var socialNetworkPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// ValidateAvatarURL accepts an absolute http(s) URL, or "" to clear the avatar
func ValidateAvatarURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if err := checkProfileURL(raw); err != nil {
		return "", fmt.Errorf("%w: avatar_url %v", model.ErrInvalidInput, err)
	}
	return raw, nil
}

// NormalizeStatus trims a status line and checks its length
func NormalizeStatus(status string) (string, error) {
	status = strings.TrimSpace(status)
	if !utf8.ValidString(status) || utf8.RuneCountInString(status) > maxStatusRunes {
		return "", fmt.Errorf("%w: status must be valid text of at most %d characters", model.ErrInvalidInput, maxStatusRunes)
	}
	return status, nil
}

// NormalizeSocialLinks lower-cases network names and checks every link.
// An empty map clears the links and is returned as nil.
func NormalizeSocialLinks(links map[string]string) (map[string]string, error) {
	if len(links) > maxSocialLinks {
		return nil, fmt.Errorf("%w: at most %d social links", model.ErrInvalidInput, maxSocialLinks)
	}
	if len(links) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(links))
	for network, raw := range links {
		network = strings.ToLower(strings.TrimSpace(network))
		if !socialNetworkPattern.MatchString(network) {
			return nil, fmt.Errorf("%w: social network name %q must be 1-32 of a-z, 0-9, '_' or '-'", model.ErrInvalidInput, network)
		}
		if _, dup := out[network]; dup {
			return nil, fmt.Errorf("%w: social network %q listed twice", model.ErrInvalidInput, network)
		}
		raw = strings.TrimSpace(raw)
		if err := checkProfileURL(raw); err != nil {
			return nil, fmt.Errorf("%w: social link %q %v", model.ErrInvalidInput, network, err)
		}
		out[network] = raw
	}
	return out, nil
}

func checkProfileURL(raw string) error {
	if len(raw) > maxURLLength {
		return fmt.Errorf("is longer than %d bytes", maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http or https URL")
	}
	return nil
}
