// attackmap maps security use cases to MITRE ATT&CK techniques.
package main

import (
	"os"

	"yashubustudio/attackmapper/cmd/attackmap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
