package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "probe":
			if err := RunProbeCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "plot":
			if err := RunPlotCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "qa":
			if err := RunQACommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "hidden":
			if err := RunHiddenCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  edge-probe [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  probe   Run a per-layer probing sweep over a frozen encoder")
	fmt.Println("  plot    Render F1-vs-layer curves from results.json files")
	fmt.Println("  qa      Answer a question against a context passage")
	fmt.Println("  hidden  Project one layer's token states to a 2D scatter")
	fmt.Println("  help    Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  edge-probe probe -vocab=vocab.txt -train=train.jsonl -val=val.jsonl -test=test.jsonl \\")
	fmt.Println("      -task-type=single_span -layers=1,2,3 -results-dir=out")
	fmt.Println("  edge-probe plot -results=out/results.json -results=ner=other/results.json -out=f1.png")
	fmt.Println("  edge-probe qa -model=qa.bin -vocab=vocab.txt -question=\"Who wrote it?\" -context=\"...\"")
	fmt.Println("  edge-probe hidden -model=qa.bin -vocab=vocab.txt -layer=6 -context=\"...\" -out=layer6.png")
	fmt.Println()
}
