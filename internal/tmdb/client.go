package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	BaseURL      = "https://api.themoviedb.org/3"
	ImageBaseURL = "https://image.tmdb.org/t/p/w500" // Use w500 for posters
)

type Client struct {
	client *resty.Client
	Token  string
}

func NewClient(token string, proxyURL string) *Client {
	c := resty.New()
	c.SetTimeout(10 * time.Second)
	c.SetBaseURL(BaseURL)
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	c.SetHeader("Authorization", "Bearer "+token)
	c.SetHeader("Content-Type", "application/json")

	return &Client{
		client: c,
		Token:  token,
	}
}

// SetBaseURL 测试时指向本地 httptest 服务
func (c *Client) SetBaseURL(u string) *Client {
	c.client.SetBaseURL(u)
	return c
}

// Details 导入时用于补全条目的最小元数据
type Details struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Year       *int   `json:"year"`
	PosterPath string `json:"posterPath"`
	Overview   string `json:"overview"`
}

type detailsResponse struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Title        string `json:"title"`
	Overview     string `json:"overview"`
	PosterPath   string `json:"poster_path"`
	FirstAirDate string `json:"first_air_date"`
	ReleaseDate  string `json:"release_date"`
}

// GetDetails fetches a TV show or movie by its TMDB id. A 404 returns (nil, nil).
func (c *Client) GetDetails(ctx context.Context, movie bool, tmdbID string) (*Details, error) {
	id, err := strconv.Atoi(strings.TrimSpace(tmdbID))
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid tmdb id %q", tmdbID)
	}
	kind := "tv"
	if movie {
		kind = "movie"
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("language", "zh-CN").
		Get(fmt.Sprintf("/%s/%d", kind, id))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("TMDB Error: %s", resp.Status())
	}

	var raw detailsResponse
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, err
	}

	d := &Details{
		ID:         raw.ID,
		Title:      raw.Name,
		Overview:   raw.Overview,
		PosterPath: c.fixImage(raw.PosterPath),
	}
	date := raw.FirstAirDate
	if movie {
		d.Title = raw.Title
		date = raw.ReleaseDate
	}
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			d.Year = &y
		}
	}
	return d, nil
}

func (c *Client) fixImage(path string) string {
	if path == "" {
		return ""
	}
	return ImageBaseURL + path
}
