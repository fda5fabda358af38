// Command petroverify runs end-to-end verification scenarios against the
// PetroVerify platform.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/petroverify/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands report their own ExitErrors; flag and argument errors from
	// cobra are printed here.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
