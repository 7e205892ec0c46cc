package scraper

// Registry turns configured sites into adapters
type Registry struct {
	http    Fetcher
	browser Fetcher
	limit   int
}

// NewRegistry creates a registry. browser may be nil, in which case
// rendered sites are fetched over plain HTTP.
func NewRegistry(http, browser Fetcher, resultsPerSite int) *Registry {
	return &Registry{http: http, browser: browser, limit: resultsPerSite}
}

// Build returns one adapter per site, in the order given
func (r *Registry) Build(sites []Site) []Adapter {
	adapters := make([]Adapter, 0, len(sites))
	for _, site := range sites {
		adapters = append(adapters, NewSelectorAdapter(site, r.fetcherFor(site), r.limit))
	}
	return adapters
}

func (r *Registry) fetcherFor(site Site) Fetcher {
	if site.Kind == KindRendered && r.browser != nil {
		return r.browser
	}
	return r.http
}
