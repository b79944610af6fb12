// Draftgate - governance mediation for autonomous agents.
// Stage. Review. Apply.
package main

func main() {
	Execute()
}
