package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// rodDriver drives one Chrome page through Rod.
type rodDriver struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	stealth bool
	log     *slog.Logger
}

func dialRod(ctx context.Context, cfg Config) (driver, error) {
	log := cfg.Logger
	d := &rodDriver{stealth: !cfg.NoStealth, log: log}

	var wsURL string
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(!cfg.Headful).
			NoSandbox(true).
			Set("disable-gpu").
			Set("disable-dev-shm-usage").
			Set("window-size", "1920,1080").
			Set("disable-features", "VizDisplayCompositor").
			Set("disable-blink-features", "AutomationControlled")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		d.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		d.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	d.browser = b

	// The camera UI is served with a self-signed certificate.
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return d, nil
}

func (d *rodDriver) openPage() (*rod.Page, error) {
	if d.stealth {
		return stealth.Page(d.browser)
	}
	return d.browser.Page(proto.TargetCreateTarget{URL: ""})
}

func (d *rodDriver) Navigate(ctx context.Context, target string) error {
	if d.page == nil {
		page, err := d.openPage()
		if err != nil {
			return fmt.Errorf("create tab: %w", err)
		}
		d.page = page
	}
	if err := d.page.Context(ctx).Navigate(target); err != nil {
		return err
	}
	if err := d.page.Context(ctx).WaitLoad(); err != nil {
		d.log.Warn("browser: wait load", "error", err)
	}
	return nil
}

func (d *rodDriver) current() (*rod.Page, error) {
	if d.page == nil {
		return nil, ErrNotConnected
	}
	return d.page, nil
}

func (d *rodDriver) Reload(ctx context.Context) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	return p.Context(ctx).Reload()
}

func (d *rodDriver) ReadyState(ctx context.Context) (string, error) {
	p, err := d.current()
	if err != nil {
		return "", err
	}
	res, err := p.Context(ctx).Eval(`() => document.readyState`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (d *rodDriver) WaitXPath(ctx context.Context, xpath string) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	_, err = p.Context(ctx).ElementX(xpath)
	return err
}

func (d *rodDriver) WaitSelector(ctx context.Context, selector string) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	_, err = p.Context(ctx).Element(selector)
	return err
}

func (d *rodDriver) HTML(ctx context.Context) (string, error) {
	p, err := d.current()
	if err != nil {
		return "", err
	}
	return p.Context(ctx).HTML()
}

func (d *rodDriver) Capture(ctx context.Context, target string) ([]byte, error) {
	if d.browser == nil {
		return nil, ErrNotConnected
	}
	tab, err := d.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}
	defer func() {
		if err := tab.Close(); err != nil {
			d.log.Debug("browser: close capture tab", "error", err)
		}
	}()

	t := tab.Context(ctx)
	if err := t.Navigate(target); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := t.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	img, err := t.Element("img")
	if err != nil {
		return nil, fmt.Errorf("find img: %w", err)
	}
	data, err := img.Screenshot(proto.PageCaptureScreenshotFormatJpeg, 90)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

func (d *rodDriver) Close() error {
	return d.cleanup()
}

func (d *rodDriver) cleanup() error {
	var errs []error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		d.page = nil
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		d.browser = nil
	}
	if d.lnch != nil {
		d.lnch.Cleanup()
		d.lnch = nil
	}
	return errors.Join(errs...)
}
