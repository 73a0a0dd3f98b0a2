package gammaapi

// Profile is a wallet's public display identity. Empty strings mean "unknown".
type Profile struct {
	Name         string `json:"name"`
	Pseudonym    string `json:"pseudonym"`
	ProfileImage string `json:"profile_image"`
	Bio          string `json:"bio"`
}

// rawProfile represents a Gamma API profile record
type rawProfile struct {
	Name                  *string `json:"name"`
	Pseudonym             *string `json:"pseudonym"`
	ProfileImage          *string `json:"profileImage"`
	ProfileImageOptimized *string `json:"profileImageOptimized"`
	Bio                   *string `json:"bio"`
}

func (p *rawProfile) normalize() *Profile {
	image := deref(p.ProfileImageOptimized)
	if image == "" {
		image = deref(p.ProfileImage)
	}
	return &Profile{
		Name:         deref(p.Name),
		Pseudonym:    deref(p.Pseudonym),
		ProfileImage: image,
		Bio:          deref(p.Bio),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
