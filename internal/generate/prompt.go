package generate

import (
	"fmt"
	"strings"
)

// BuildPrompt composes the instruction text sent alongside the images. The
// first image is always the person; garment images follow in item order. A
// caller-supplied instruction replaces the standard framing entirely.
func BuildPrompt(items []ItemImage, opts Options) string {
	var b strings.Builder

	if opts.Instruction != "" {
		b.WriteString(strings.TrimSpace(opts.Instruction))
	} else if len(items) == 1 {
		item := items[0]
		fmt.Fprintf(&b,
			"The first image shows a person. The second image shows %s. "+
				"Generate a realistic photo of the same person wearing this item. "+
				"Preserve the person's face, body shape, pose and the rest of their outfit exactly.",
			describeItem(item))
	} else {
		b.WriteString("The first image shows a person. The following images show garments:\n")
		for i, item := range items {
			fmt.Fprintf(&b, "%d. %s\n", i+1, describeItem(item))
		}
		b.WriteString(
			"Generate a realistic photo of the same person wearing all of these items together as one outfit. " +
				"Preserve the person's face, body shape and pose exactly.")
	}

	if opts.CleanBackground {
		b.WriteString(" Place the person against a clean, neutral studio background.")
	}

	return b.String()
}

func describeItem(item ItemImage) string {
	desc := item.Category
	if desc == "" {
		desc = "clothing item"
	}
	if len(item.Colors) > 0 {
		desc = strings.Join(item.Colors, " and ") + " " + desc
	}
	if len(item.StyleTags) > 0 {
		desc += " (" + strings.Join(item.StyleTags, ", ") + ")"
	}
	return "a " + desc
}
