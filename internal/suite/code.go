package suite

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/scenario"
)

var copiedState = regexp.MustCompile(`(?i)copied|success`)

// installPaths are tried in order until one answers 200.
var installPaths = []string{"/docs/intro", "/docs/getting-started-vscode"}

func languageSelector() scenario.Scenario {
	return scenario.Scenario{
		Name:        "language-selector",
		Description: "Switching the code language keeps code examples populated",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, firstDocPath(env)); err != nil {
				return err
			}
			if _, err := env.Require(ctx, "language-selector"); err != nil {
				return err
			}
			code, err := env.Expect(ctx, "code-block")
			if err != nil {
				return err
			}
			if _, err := checkText(ctx, env, "initial code", code); err != nil {
				return err
			}
			tabs, q, err := env.All(ctx, "language-tab", 8)
			if err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			switched := 0
			for _, tab := range visibleOnly(tabs) {
				if switched == 2 {
					break
				}
				if err := browser.NewElement(env.Page, q.At(tab.Index)).Click(ctx); err != nil {
					return fmt.Errorf("failed to select %s: %w", tab.Text, err)
				}
				switched++
				if _, err := checkText(ctx, env, "code after selecting "+tab.Text, code); err != nil {
					return err
				}
			}
			if switched == 0 {
				env.Soft.Skip("switch language", "no language tab visible")
			}
			if err := env.Settle(ctx); err != nil {
				return err
			}
			return env.NoCriticalErrors()
		},
	}
}

func copyButton() scenario.Scenario {
	return scenario.Scenario{
		Name:        "copy-button",
		Description: "Copy button on a code example reacts to a click",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, firstDocPath(env)); err != nil {
				return err
			}
			code, err := env.Expect(ctx, "code-block")
			if err != nil {
				return err
			}
			if err := code.Hover(ctx); err != nil {
				return fmt.Errorf("failed to hover code block: %w", err)
			}
			btn, err := env.Require(ctx, "copy-button")
			if err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			if err := btn.Click(ctx); err != nil {
				return fmt.Errorf("failed to click copy: %w", err)
			}
			copied, err := env.Poll(ctx, env.Settings.WaitTimeout, func(ctx context.Context) (bool, error) {
				return copyFeedback(ctx, btn)
			})
			if err != nil {
				return err
			}
			env.Soft.Check("copy feedback", copied, "%s showed no copied state within %s", btn, env.Settings.WaitTimeout)

			blocks, q, err := env.All(ctx, "code-block", 2)
			if err != nil {
				return err
			}
			for _, b := range blocks {
				if err := browser.NewElement(env.Page, q.At(b.Index)).Hover(ctx); err != nil && !errors.Is(err, browser.ErrNoElement) {
					return err
				}
			}
			if err := env.Settle(ctx); err != nil {
				return err
			}
			return env.NoCriticalErrors()
		},
	}
}

// copyFeedback reports whether the button shows a copied state in its
// text or common attributes.
func copyFeedback(ctx context.Context, btn browser.Element) (bool, error) {
	text, err := btn.Text(ctx)
	if errors.Is(err, browser.ErrNoElement) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if copiedState.MatchString(text) {
		return true, nil
	}
	for _, name := range []string{"class", "aria-label", "title"} {
		v, _, err := btn.Attr(ctx, name)
		if errors.Is(err, browser.ErrNoElement) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if copiedState.MatchString(v) {
			return true, nil
		}
	}
	return false, nil
}

func packageManagers() scenario.Scenario {
	return scenario.Scenario{
		Name:        "install-package-managers",
		Description: "Each package manager tab shows its own install command",
		Run: func(ctx context.Context, env *scenario.Env) error {
			status := 0
			for _, p := range installPaths {
				resp, _, err := env.Goto(ctx, p)
				if err != nil {
					return err
				}
				if status = resp.Status; status == 200 {
					break
				}
			}
			if err := assert.Status(200, status); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-content"); err != nil {
				return err
			}
			tabs, q, err := env.All(ctx, "package-manager-tab", 10)
			if err != nil {
				return err
			}
			tabs = visibleOnly(tabs)
			if len(tabs) == 0 {
				return assert.Skip("no package manager options found")
			}

			if err := env.Verify(); err != nil {
				return err
			}
			done := make(map[string]bool)
			for _, tab := range tabs {
				name := strings.ToLower(strings.TrimSpace(tab.Text))
				if done[name] {
					continue
				}
				done[name] = true
				if err := browser.NewElement(env.Page, q.At(tab.Index)).Click(ctx); err != nil {
					return fmt.Errorf("failed to select %s: %w", name, err)
				}
				ok, err := env.Poll(ctx, env.Settings.WaitTimeout, func(ctx context.Context) (bool, error) {
					return codeMentions(ctx, env, name)
				})
				if err != nil {
					return err
				}
				env.Soft.Check(name+" command", ok, "no visible code block mentions %s", name)
			}
			return nil
		},
	}
}

func codeMentions(ctx context.Context, env *scenario.Env, word string) (bool, error) {
	blocks, _, err := env.All(ctx, "code-block", 20)
	if err != nil {
		return false, err
	}
	for _, b := range visibleOnly(blocks) {
		if strings.Contains(strings.ToLower(b.Text), word) {
			return true, nil
		}
	}
	return false, nil
}
