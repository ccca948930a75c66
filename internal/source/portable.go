package source

// PortableRefreshOptions is the part of RefreshOptions that survives export
type PortableRefreshOptions struct {
	Interval int `json:"interval"`
}

// Portable is the export/import form of a source.
// It excludes content and absolute timestamps.
type Portable struct {
	Type           Type                   `json:"type"`
	Path           string                 `json:"path"`
	Tag            string                 `json:"tag,omitempty"`
	Method         string                 `json:"method,omitempty"`
	RequestOptions RequestOptions         `json:"requestOptions"`
	RefreshOptions PortableRefreshOptions `json:"refreshOptions"`
	JSONFilter     JSONFilter             `json:"jsonFilter"`
}

// ToPortable converts a source into its portable descriptor
func (s *Source) ToPortable() Portable {
	c := s.Clone()
	return Portable{
		Type:           c.Type,
		Path:           c.Path,
		Tag:            c.Tag,
		Method:         c.Method,
		RequestOptions: c.RequestOptions,
		RefreshOptions: PortableRefreshOptions{Interval: c.RefreshOptions.Interval},
		JSONFilter:     c.JSONFilter,
	}
}

// CreateRequest converts the portable descriptor into a create request
func (p Portable) CreateRequest() CreateRequest {
	return CreateRequest{
		Type:           p.Type,
		Path:           p.Path,
		Tag:            p.Tag,
		Method:         p.Method,
		RequestOptions: p.RequestOptions.clone(),
		RefreshOptions: RefreshOptions{Interval: p.RefreshOptions.Interval},
		JSONFilter:     p.JSONFilter,
	}
}
