package main

import (
	"github.com/fatih/color"

	"complylaw/internal/domain"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
)

func formatFindingStatus(s domain.FindingStatus) string {
	switch s {
	case domain.FindingPass:
		return colorSuccess(string(s))
	case domain.FindingWarn:
		return colorWarn(string(s))
	case domain.FindingFail, domain.FindingError:
		return colorError(string(s))
	}
	return string(s)
}

func formatGrade(g domain.Grade) string {
	switch g {
	case domain.GradeA, domain.GradeB:
		return colorSuccess(string(g))
	case domain.GradeC:
		return colorWarn(string(g))
	}
	return colorError(string(g))
}
