package nanto

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// smokeCheck launches the freshly built browser headless, loads a blank page
// over the DevTools protocol and reports the version it identifies as. A
// binary that cannot start or answer within the timeout fails the check.
func smokeCheck(timeout time.Duration) error {
	binPath := filepath.Join(sourceTree, filepath.FromSlash(outDirRel), "chrome")
	if !fileExists(binPath) {
		return fmt.Errorf("no browser binary at %s, run the build step first", binPath)
	}

	stepf("Launching %s", binPath)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(binPath),
		chromedp.NoSandbox,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var protocolVersion, product, revision, userAgent, jsVersion string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			protocolVersion, product, revision, userAgent, jsVersion, err = browser.GetVersion().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("browser smoke check failed: %w", err)
	}

	stepf("Browser is healthy")
	cPrintf(colNote, "  product:   %s\n", product)
	cPrintf(colNote, "  revision:  %s\n", revision)
	cPrintf(colNote, "  protocol:  %s\n", protocolVersion)
	cPrintf(colNote, "  js engine: %s\n", jsVersion)
	cPrintf(colNote, "  agent:     %s\n", userAgent)
	return nil
}
