package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/despensa-ai/despensa/internal/audit"
	"github.com/despensa-ai/despensa/internal/extract"
	"github.com/despensa-ai/despensa/internal/relay"
)

// runBuildMenuGallery handles the build_menu_gallery tool.
func (r *Registry) runBuildMenuGallery(ctx context.Context, call Call) (string, error) {
	menuText, _ := call.Args["menu_text"].(string)
	if menuText == "" {
		r.logger.Error("menu_text is required for build_menu_gallery")
		return "\n\n❌ **Function Error:** menu_text is required for build_menu_gallery", nil
	}

	perItem := 1
	if n, ok := call.Args["results_per_item"].(float64); ok {
		perItem = int(n)
	}
	perItem = max(1, min(perItem, 3))

	r.stream(ctx, call.Sink, call.Msg, "\n📋 **Building menu gallery**")

	summary, err := r.buildGallery(ctx, call, menuText, perItem)
	if err != nil {
		return "", err
	}

	r.stream(ctx, call.Sink, call.Msg, fmt.Sprintf("\n✅ **Menu gallery built**\n%s", summary))
	return summary, nil
}

// buildGallery parses menu items, records them to the scratch sink, and
// streams an image per item. The image loop for one item stops on the
// first miss or search error; other items still get their chance.
func (r *Registry) buildGallery(ctx context.Context, call Call, menuText string, perItem int) (string, error) {
	items := extract.MenuItems(menuText)
	if len(items) == 0 {
		r.logger.Info("no menu items detected")
		return "No menu items detected to build a gallery.", nil
	}

	if _, err := r.audit.WriteList(audit.MenuFile, items); err != nil {
		return "", fmt.Errorf("write menu file: %w", err)
	}
	r.stream(ctx, call.Sink, call.Msg, fmt.Sprintf("\n🗂️ Saved menu items to menu.txt (%d items)", len(items)))

	apiKey := call.Msg.Variables.Get("SERPER_API_KEY")
	combined := []string{fmt.Sprintf("\n🍽️ **Menu Gallery** (%d items)\n", len(items))}

	for i, item := range items {
		idx := i + 1
		r.stream(ctx, call.Sink, call.Msg, fmt.Sprintf("\n%d. %s", idx, item))

		foundAny := false
		for range perItem {
			imageURL, err := r.search.ImageSearch(ctx, apiKey, item)
			if err != nil {
				r.logger.Error("image search failed", "item", item, "error", err)
				break
			}
			if imageURL == "" {
				r.logger.Info("no image found for item", "item", item)
				break
			}
			foundAny = true
			wrapped := relay.WrapImage(imageURL)
			r.stream(ctx, call.Sink, call.Msg, wrapped)
			combined = append(combined, fmt.Sprintf("%d. %s: %s", idx, item, wrapped))
		}
		if !foundAny {
			r.stream(ctx, call.Sink, call.Msg, fmt.Sprintf("⚠️ No image found for: %s", item))
			combined = append(combined, fmt.Sprintf("%d. %s: no image found", idx, item))
		}
	}

	return strings.Join(combined, "\n"), nil
}
