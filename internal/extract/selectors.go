package extract

// Default selector lists, most specific first.
var (
	DefaultCardSelectors = []string{
		`a[data-testid="event-card-link"]`,
		`a.event-card-link`,
		`a[href*="/e/"]`,
		`.event-card a`,
		`[data-testid="event-listing-card"] a`,
		`article a[href*="/e/"]`,
		`.search-event-card-wrapper a`,
		`div[data-testid*="event"] a[href*="/e/"]`,
	}

	// DefaultCardTitleSelectors are looked up inside a card, then its parent.
	DefaultCardTitleSelectors = []string{
		`h3`, `h2`, `.event-card__title`, `[data-testid="event-title"]`, `.event-title`,
		`h1`, `h4`, `.title`, `[class*="title"]`,
	}

	DefaultTitleSelectors = []string{
		`h1[data-testid="event-title"]`,
		`h1.event-title`,
		`.event-title h1`,
		`[data-testid*="title"] h1`,
		`header h1`,
		`h1`,
	}

	DefaultDateSelectors = []string{
		`[data-testid="event-start-date"]`,
		`.date-info__full-datetime`,
		`time`,
		`.event-date`,
		`[data-testid*="date"]`,
		`[class*="date"]`,
	}

	DefaultLocationSelectors = []string{
		`[data-testid="event-venue"]`,
		`.location-info__address-text`,
		`.venue-name`,
		`.event-location`,
		`[data-testid*="venue"]`,
		`[class*="location"]`,
	}

	DefaultDescriptionSelectors = []string{
		`[data-testid="event-description"]`,
		`.event-description`,
		`.description-content`,
		`.event-details .description`,
		`[class*="description"]`,
	}

	DefaultOrganizerSelectors = []string{
		`[data-testid="organizer-name"]`,
		`.organizer-name`,
		`.event-organizer`,
		`[class*="organizer"] a`,
		`a[href*="/o/"]`,
	}

	DefaultPriceSelectors = []string{
		`[data-testid="ticket-price"]`,
		`.ticket-price`,
		`.ticket-info .price`,
		`.price`,
		`[class*="price"]`,
	}
)

func selectorsOr(custom, fallback []string) []string {
	if len(custom) > 0 {
		return custom
	}
	return fallback
}
