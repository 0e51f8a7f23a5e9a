package workshop

// ListingURLPrefix is the canonical form of a Workshop item page, a
// listing id appended to it yields that item's page.
const ListingURLPrefix = defaultListingBaseURL + listingPath + "?id="

type Provenance int

const (
	// Featured listings are linked explicitly from the repository
	// homepage field.
	Featured Provenance = iota
	// Discovered listings come from a workshop.txt marker file in the
	// repository.
	Discovered
)

func (p Provenance) String() string {
	switch p {
	case Featured:
		return "featured"
	case Discovered:
		return "discovered"
	}
	return "unknown"
}

// Resolution ties one repository to one Workshop listing. The id
// doubles as the catalog's dedup key.
type Resolution struct {
	ID         string
	Provenance Provenance
	// URL is the listing page to scrape. Featured resolutions keep the
	// homepage link verbatim, discovered ones get a synthesized
	// canonical URL.
	URL string
}

func (r Resolution) Found() bool {
	return r.ID != ""
}

// ScrapeResult carries whatever fields one listing page yielded.
// Fields may be missing individually when the page markup has moved on,
// Failure is only set when the page could not be fetched and parsed at
// all.
type ScrapeResult struct {
	Title       string
	Banner      string
	Subscribers *int
	Videos      []string
	Failure     string
}
