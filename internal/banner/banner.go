package banner

import (
	"fmt"
	"io"
)

const Version = "0.3.0"

// Fprint writes the startup banner to w.
func Fprint(w io.Writer) {
	banner := `
   ____                 ___              _      __
  / __ \____  _____    /   |  __________(_)____/ /_
 / / / / __ \/ ___/   / /| | / ___/ ___/ / ___/ __/
/ /_/ / /_/ (__  )   / ___ |(__  |__  ) (__  ) /_
\____/ .___/____/   /_/  |_/____/____/_/____/\__/
    /_/   v%s - Incident Detection & Grouping
`
	fmt.Fprintf(w, banner, Version)
	fmt.Fprintln(w, "------------------------------------------------")
}
