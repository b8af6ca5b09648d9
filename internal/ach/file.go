package ach

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// recordLen is the fixed NACHA record length; every line in the file
// assembled below pads or truncates to exactly this width.
const recordLen = 94

// GenerateFile assembles a single-batch NACHA file for a sealed batch,
// following the fixed-width record layout from spec §6: file header (1),
// batch header (5), one entry detail (6) per entry, batch control (8),
// file control (9), padded with 9-filled records to a multiple of ten
// lines. The line-by-line strings.Builder assembly mirrors the reporting
// service's structured text generator.
func GenerateFile(b Batch, entries []Entry, immediateDestination, immediateOriginName, immediateDestinationName string, fileIDModifier byte) (string, error) {
	if b.Status != BatchSealed && b.Status != BatchFiled && b.Status != BatchSettled {
		return "", fmt.Errorf("ach: batch %s must be sealed before a file can be generated, is %s", b.BatchID, b.Status)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("ach: batch %s has no entries", b.BatchID)
	}

	var out strings.Builder
	writeLine(&out, fileHeader(b, immediateDestination, immediateOriginName, immediateDestinationName, fileIDModifier))
	writeLine(&out, batchHeader(b))
	for _, e := range entries {
		writeLine(&out, entryDetail(e))
	}
	writeLine(&out, batchControl(b))
	writeLine(&out, fileControl(b, len(entries)))

	lineCount := 4 + len(entries)
	for lineCount%10 != 0 {
		writeLine(&out, strings.Repeat("9", recordLen))
		lineCount++
	}
	return out.String(), nil
}

func writeLine(b *strings.Builder, line string) {
	b.WriteString(padLine(line))
	b.WriteString("\n")
}

func padLine(s string) string {
	if len(s) >= recordLen {
		return s[:recordLen]
	}
	return s + strings.Repeat(" ", recordLen-len(s))
}

func leftPad(s string, n int, fill byte) string {
	if len(s) >= n {
		return s[len(s)-n:]
	}
	return strings.Repeat(string(fill), n-len(s)) + s
}

func rightPad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

func fileHeader(b Batch, immediateDestination, originName, destName string, modifier byte) string {
	now := time.Now().UTC()
	var sb strings.Builder
	sb.WriteString("1")
	sb.WriteString("01")
	sb.WriteString(rightPad(" "+immediateDestination, 10))
	sb.WriteString(rightPad(" "+b.ODFIRouting, 10))
	sb.WriteString(now.Format("060102"))
	sb.WriteString(now.Format("1504"))
	sb.WriteByte(modifier)
	sb.WriteString("094")
	sb.WriteString("10")
	sb.WriteString("1")
	sb.WriteString(rightPad(destName, 23))
	sb.WriteString(rightPad(originName, 23))
	sb.WriteString(rightPad("", 8))
	return sb.String()
}

func batchHeader(b Batch) string {
	var sb strings.Builder
	sb.WriteString("5")
	sb.WriteString("200")
	sb.WriteString(rightPad(b.CompanyName, 16))
	sb.WriteString(rightPad("", 20))
	sb.WriteString(rightPad(b.CompanyID, 10))
	sb.WriteString("PPD")
	sb.WriteString(rightPad(b.EntryDescription, 10))
	sb.WriteString(rightPad("", 6))
	sb.WriteString(b.EffectiveDate.Format("060102"))
	sb.WriteString(rightPad("", 3))
	sb.WriteString("1")
	sb.WriteString(leftPad(firstN(b.ODFIRouting, 8), 8, '0'))
	sb.WriteString(leftPad("1", 7, '0'))
	return sb.String()
}

func entryDetail(e Entry) string {
	routing := e.RDFIRouting
	checkDigit := "0"
	rdfi8 := firstN(routing, 8)
	if len(routing) >= 9 {
		checkDigit = routing[8:9]
	}
	var sb strings.Builder
	sb.WriteString("6")
	sb.WriteString(fmt.Sprintf("%02d", int(e.TxnCode)))
	sb.WriteString(leftPad(rdfi8, 8, '0'))
	sb.WriteString(checkDigit)
	sb.WriteString(rightPad(e.AccountNumberMasked, 17))
	sb.WriteString(leftPad(strconv.FormatInt(int64(e.AmountMinor), 10), 10, '0'))
	sb.WriteString(rightPad(e.IndividualID, 15))
	sb.WriteString(rightPad("", 22))
	sb.WriteString(rightPad("", 2))
	sb.WriteString("0")
	sb.WriteString(leftPad(e.TraceNumber, 15, '0'))
	return sb.String()
}

func batchControl(b Batch) string {
	var sb strings.Builder
	sb.WriteString("8")
	sb.WriteString("200")
	sb.WriteString(leftPad(strconv.Itoa(b.EntryCount), 6, '0'))
	sb.WriteString(leftPad(strconv.FormatInt(b.EntryHash, 10), 10, '0'))
	sb.WriteString(leftPad(strconv.FormatInt(int64(b.DebitTotalMinor), 10), 12, '0'))
	sb.WriteString(leftPad(strconv.FormatInt(int64(b.CreditTotalMinor), 10), 12, '0'))
	sb.WriteString(rightPad(b.CompanyID, 10))
	sb.WriteString(rightPad("", 19))
	sb.WriteString(rightPad("", 6))
	sb.WriteString(leftPad(firstN(b.ODFIRouting, 8), 8, '0'))
	sb.WriteString(leftPad("1", 7, '0'))
	return sb.String()
}

func fileControl(b Batch, entryCount int) string {
	blockCount := (4 + entryCount + 9) / 10
	var sb strings.Builder
	sb.WriteString("9")
	sb.WriteString(leftPad("1", 6, '0'))
	sb.WriteString(leftPad(strconv.Itoa(blockCount), 6, '0'))
	sb.WriteString(leftPad(strconv.Itoa(entryCount), 8, '0'))
	sb.WriteString(leftPad(strconv.FormatInt(b.EntryHash, 10), 10, '0'))
	sb.WriteString(leftPad(strconv.FormatInt(int64(b.DebitTotalMinor), 10), 12, '0'))
	sb.WriteString(leftPad(strconv.FormatInt(int64(b.CreditTotalMinor), 10), 12, '0'))
	sb.WriteString(rightPad("", 39))
	return sb.String()
}
