// Package recognizer is a client for the Plate Recognizer snapshot API,
// used to fill in vehicle make and model from a stored plate image.
package recognizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/plates/horosafe"
	"github.com/hazyhaar/plates/platewatch/detection"
)

// DefaultURL is the Plate Recognizer snapshot endpoint.
const DefaultURL = "https://api.platerecognizer.com/v1/plate-reader/"

// ErrStatus is wrapped by Error when the API answers with a status other
// than 200 or 201.
var ErrStatus = errors.New("recognizer: unexpected status")

// Error reports a failed recognition call.
type Error struct {
	Status int // 0 when no response was received
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("recognizer: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("recognizer: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures a Client.
type Config struct {
	// URL of the recognition endpoint. Default: DefaultURL.
	URL   string
	Token string
	// Regions hints the plate region. Default: ["sg"].
	Regions []string
	// StrictRegion restricts matches to Regions.
	StrictRegion bool
	// MMC asks for make, model and colour.
	MMC bool
	// Timeout bounds one call. Default: 30s.
	Timeout time.Duration
	// Rate caps calls per second; 0 disables the limiter.
	Rate float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if len(c.Regions) == 0 {
		c.Regions = []string{"sg"}
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the vehicle identified in an image. Fields the API did not
// return are absent.
type Result struct {
	Make  detection.Attr
	Model detection.Attr
	Plate string
	Score float64
}

// Client calls the recognition API.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg.defaults()
	c := &Client{cfg: cfg}
	if cfg.Rate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return c
}

// Recognize uploads the image at path and returns the identified vehicle.
func (c *Client) Recognize(ctx context.Context, path string) (*Result, error) {
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("read image: %w", err)}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	body, contentType, err := c.form(filepath.Base(path), img)
	if err != nil {
		return nil, &Error{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, body)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+c.cfg.Token)

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &Error{Status: resp.StatusCode, Body: strings.TrimSpace(string(data)), Err: ErrStatus}
	}

	res, err := parse(data)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Err: err}
	}
	c.cfg.Logger.Debug("recognizer: recognized", "image", filepath.Base(path),
		"make", res.Make.String(), "model", res.Model.String(), "took", time.Since(start))
	return res, nil
}

func (c *Client) form(name string, img []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := c.writeForm(mw, name, img); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) writeForm(mw *multipart.Writer, name string, img []byte) error {
	fw, err := mw.CreateFormFile("upload", name)
	if err != nil {
		return fmt.Errorf("form file: %w", err)
	}
	if _, err := fw.Write(img); err != nil {
		return fmt.Errorf("form file: %w", err)
	}
	for _, r := range c.cfg.Regions {
		if err := mw.WriteField("regions", r); err != nil {
			return fmt.Errorf("form regions: %w", err)
		}
	}
	if err := mw.WriteField("mmc", fmt.Sprint(c.cfg.MMC)); err != nil {
		return fmt.Errorf("form mmc: %w", err)
	}
	if c.cfg.StrictRegion {
		if err := mw.WriteField("config", `{"region":"strict"}`); err != nil {
			return fmt.Errorf("form config: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("form close: %w", err)
	}
	return nil
}

type response struct {
	Make    *string `json:"make"`
	Model   *string `json:"model"`
	Results []struct {
		Plate     string  `json:"plate"`
		Score     float64 `json:"score"`
		ModelMake []struct {
			Make  string `json:"make"`
			Model string `json:"model"`
		} `json:"model_make"`
	} `json:"results"`
}

// parse reads top-level make/model first, then the best model_make guess
// of the first result.
func parse(data []byte) (*Result, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	res := &Result{}
	if len(r.Results) > 0 {
		first := r.Results[0]
		res.Plate = first.Plate
		res.Score = first.Score
		if len(first.ModelMake) > 0 {
			res.Make = attr(first.ModelMake[0].Make)
			res.Model = attr(first.ModelMake[0].Model)
		}
	}
	if r.Make != nil {
		res.Make = attr(*r.Make)
	}
	if r.Model != nil {
		res.Model = attr(*r.Model)
	}
	return res, nil
}

func attr(s string) detection.Attr {
	if strings.TrimSpace(s) == "" {
		return detection.None()
	}
	return detection.Some(s)
}
