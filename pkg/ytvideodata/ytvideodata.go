// Package ytvideodata does a best-effort lookup of a YouTube video's title,
// used by the gateway to enrich PLAYLIST_ADD when the client omits it. This
// is never on any invariant-preserving path: apply() must stay pure, so the
// lookup happens before an operation is proposed, and a lookup failure never
// blocks the add — the entry is proposed without a title instead.
package ytvideodata

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/net/html"
)

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrVideoNotEmbeddable = errors.New("video is not embeddable")
)

type oembedResponse struct {
	Title string `json:"title"`
}

// Title returns the title of the given YouTube video id, trying the oEmbed
// endpoint first and falling back to scraping the watch page's <title> when
// the video isn't embeddable.
func Title(videoID string) (string, error) {
	title, err := titleFromOembed(videoID)
	if err == nil {
		return title, nil
	}
	if !errors.Is(err, ErrVideoNotEmbeddable) {
		return "", fmt.Errorf("oembed lookup: %w", err)
	}

	title, err = titleFromWatchPage(videoID)
	if err != nil {
		return "", fmt.Errorf("watch page scrape: %w", err)
	}

	return title, nil
}

func titleFromOembed(videoID string) (string, error) {
	url := fmt.Sprintf("https://www.youtube.com/oembed?url=https://www.youtube.com/watch?v=%s", videoID)
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return "", ErrVideoNotFound
	case http.StatusUnauthorized:
		return "", ErrVideoNotEmbeddable
	default:
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out oembedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}

	return out.Title, nil
}

func titleFromWatchPage(videoID string) (string, error) {
	resp, err := http.Get("https://youtu.be/" + videoID)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", err
	}

	title := findTitle(doc)
	if title == "" {
		return "", ErrVideoNotFound
	}

	return title, nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return n.FirstChild.Data
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := findTitle(c); title != "" {
			return title
		}
	}

	return ""
}
