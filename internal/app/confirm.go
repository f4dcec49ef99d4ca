package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// confirm asks the operator a yes/no question on outW and reads the answer
// from inR. Anything other than "y" or "yes" is a no. With AssumeYes the
// question is logged and answered without reading input. Cancelling ctx
// while waiting closes inR when it is an io.Closer.
func (a *App) confirm(ctx context.Context, question string) (bool, error) {
	if a.config.AssumeYes {
		a.logger.Info("Confirmation assumed.", "question", strings.TrimSpace(question))
		return true, nil
	}
	if a.inR == nil {
		return false, nil
	}
	fmt.Fprint(a.outW, question)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(a.inR).ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		// Closing the input releases the reader. A reader that cannot be
		// closed stays blocked until a line or EOF arrives.
		if c, ok := a.inR.(io.Closer); ok {
			c.Close()
			<-ch
		}
		return false, ctx.Err()
	case ans := <-ch:
		if ans.err != nil && ans.line == "" {
			// EOF without an answer counts as a no.
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(ans.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
