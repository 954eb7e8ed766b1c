package command

import (
	"context"
	"fmt"
	"strings"
)

func (h *Handler) help(ctx context.Context, args []string) (string, error) {
	var b strings.Builder

	b.WriteString("Commands:\n")

	for _, c := range Commands {
		fmt.Fprintf(&b, "  %-58s %s\n", c.String(), c.Usage)
	}

	b.WriteString("\nstart and stop also accept a VM name without the object type.\n")

	return b.String(), nil
}
