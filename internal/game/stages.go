package game

import "fmt"

// Stage is a fixed puzzle of the ranked single-player ladder.
type Stage struct {
	Number     int
	Name       string
	Seed       int64
	Difficulty string
}

// Stages is the ranked ladder in play order.
var Stages = []Stage{
	{Number: 1, Name: "Beginner", Seed: 12345, Difficulty: "easy"},
	{Number: 2, Name: "Novice", Seed: 23456, Difficulty: "easy"},
	{Number: 3, Name: "Elementary", Seed: 34567, Difficulty: "easy"},
	{Number: 4, Name: "Pre-intermediate", Seed: 45678, Difficulty: "normal"},
	{Number: 5, Name: "Intermediate", Seed: 56789, Difficulty: "normal"},
	{Number: 6, Name: "Upper intermediate", Seed: 67890, Difficulty: "normal"},
	{Number: 7, Name: "Pre-advanced", Seed: 78901, Difficulty: "hard"},
	{Number: 8, Name: "Advanced", Seed: 89012, Difficulty: "hard"},
	{Number: 9, Name: "Expert", Seed: 90123, Difficulty: "hard"},
	{Number: 10, Name: "Specialist", Seed: 11234, Difficulty: "very hard"},
	{Number: 11, Name: "Master", Seed: 22345, Difficulty: "very hard"},
	{Number: 12, Name: "Grandmaster", Seed: 33456, Difficulty: "very hard"},
}

// StageByNumber looks up a ladder stage (1-based).
func StageByNumber(n int) (Stage, error) {
	if n < 1 || n > len(Stages) {
		return Stage{}, fmt.Errorf("stage %d out of range 1..%d", n, len(Stages))
	}
	return Stages[n-1], nil
}
