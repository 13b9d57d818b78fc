// Command scorecard evaluates a glTF/GLB model file offline and prints the
// resulting quality scorecard as JSON. It runs the same evaluator the service
// applies to downloaded artifacts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"forge3d/internal/evaluate"
)

func main() {
	file := flag.String("file", "", "path to a .glb or .gltf model")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: scorecard -file model.glb")
		os.Exit(2)
	}

	card, err := evaluate.New().Evaluate(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scorecard: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scorecard: encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
