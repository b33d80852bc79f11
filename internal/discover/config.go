package discover

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Config describes how the source site lays out its catalog. URL templates
// expand {id} to the category id.
type Config struct {
	HomeURL   string `mapstructure:"home_url"`
	RootTitle string `mapstructure:"root_title"`
	// CategoryPageURL lists the subcategories of a category.
	CategoryPageURL string `mapstructure:"category_page_url"`
	// ListingURL is a paginated list of a leaf category's assets. The page
	// number is appended as &page=N.
	ListingURL string `mapstructure:"listing_url"`

	CategoryListSelector string `mapstructure:"category_list_selector"`
	CategoryNavSelector  string `mapstructure:"category_nav_selector"`
	PaginationSelector   string `mapstructure:"pagination_selector"`
	PageCountSelector    string `mapstructure:"page_count_selector"`
	ImageSelector        string `mapstructure:"image_selector"`
	CategoryIDPattern    string `mapstructure:"category_id_pattern"`

	// UpdateMode only reads the first listing page of each leaf.
	UpdateMode bool `mapstructure:"update_mode"`
}

// DefaultConfig returns the selectors of the supported site layout rooted at home.
func DefaultConfig(home string) Config {
	home = strings.TrimRight(home, "/")
	return Config{
		HomeURL:              home,
		RootTitle:            "Home",
		CategoryPageURL:      home + "/category/index/cid/{id}.html",
		ListingURL:           home + "/search/index.html?cid={id}&page_size=500",
		CategoryListSelector: "ul.category-list a",
		CategoryNavSelector:  "ul.category-nav a",
		PaginationSelector:   "ul.am-pagination",
		PageCountSelector:    "div:last-child span:last-child",
		ImageSelector:        "ul.search-list img.goods-images",
		CategoryIDPattern:    `/cid/([0-9]+)\.html`,
	}
}

// Validate checks that every template and selector is usable.
func (c Config) Validate() error {
	var errs []error
	required := map[string]string{
		"home_url":               c.HomeURL,
		"category_page_url":      c.CategoryPageURL,
		"listing_url":            c.ListingURL,
		"category_list_selector": c.CategoryListSelector,
		"category_nav_selector":  c.CategoryNavSelector,
		"image_selector":         c.ImageSelector,
		"category_id_pattern":    c.CategoryIDPattern,
	}
	for _, key := range []string{
		"home_url", "category_page_url", "listing_url", "category_list_selector",
		"category_nav_selector", "image_selector", "category_id_pattern",
	} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("source.%s is required", key))
		}
	}
	if c.CategoryIDPattern != "" {
		re, err := regexp.Compile(c.CategoryIDPattern)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("source.category_id_pattern: %w", err))
		case re.NumSubexp() < 1:
			errs = append(errs, errors.New("source.category_id_pattern needs a capture group"))
		}
	}
	return errors.Join(errs...)
}

func expand(template, id string) string {
	return strings.ReplaceAll(template, "{id}", id)
}
