// Package report 把预测结果渲染为 A4 PDF 报表。
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"lesionlog/internal/model"

	"github.com/go-pdf/fpdf"
	"github.com/gosimple/slug"
)

// DefaultTableRows 明细表默认最多展示的行数。
const DefaultTableRows = 100

// UserStats 是报表中的用户统计块。
type UserStats struct {
	Total           int64
	Admins          int64
	Users           int64
	AdminPercentage int
	UserPercentage  int
}

// LabelShare 是某个预测标签的数量与占比（两位小数）。
type LabelShare struct {
	Prediction string
	Count      int
	Percentage float64
}

// Row 是明细表中的一行。
type Row struct {
	CreatedAt  time.Time
	Prediction string
	Confidence float64
	Username   string
}

// Data 是渲染一份报表所需的全部数据。
type Data struct {
	Range       model.DateRange
	GeneratedAt time.Time
	Users       UserStats
	Total       int
	Labels      []LabelShare
	Rows        []Row
	TableRows   int
}

// FromResults 把结果转换为明细行与标签占比；缺失用户显示为 unknown。
func FromResults(results []model.Result) ([]Row, []LabelShare) {
	rows := make([]Row, 0, len(results))
	for i := range results {
		r := &results[i]
		name := "unknown"
		if r.User != nil && r.User.Username != "" {
			name = r.User.Username
		}
		rows = append(rows, Row{CreatedAt: r.CreatedAt, Prediction: r.Prediction, Confidence: r.Confidence, Username: name})
	}
	return rows, BuildLabelShares(rows)
}

// BuildLabelShares 按标签计数，数量降序，相同数量保持首次出现顺序。
func BuildLabelShares(rows []Row) []LabelShare {
	index := make(map[string]int)
	shares := make([]LabelShare, 0)
	for _, r := range rows {
		i, ok := index[r.Prediction]
		if !ok {
			i = len(shares)
			index[r.Prediction] = i
			shares = append(shares, LabelShare{Prediction: r.Prediction})
		}
		shares[i].Count++
	}
	total := len(rows)
	for i := range shares {
		shares[i].Percentage = math.Round(float64(shares[i].Count)/float64(total)*10000) / 100
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].Count > shares[j].Count })
	return shares
}

// Filename 返回下载/附件使用的文件名。
func Filename(r model.DateRange) string {
	return slug.Make(fmt.Sprintf("prediction report %s to %s", r.StartLabel(), r.EndLabel())) + ".pdf"
}

// Render 渲染完整文档后一次性写入 w。
func Render(w io.Writer, d Data) error {
	pdf := build(d)
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

const (
	margin    = 15.0
	rowHeight = 7.0
)

var columns = []struct {
	title string
	width float64
	align string
}{
	{"Date", 50, "L"},
	{"Prediction", 60, "L"},
	{"Confidence %", 30, "R"},
	{"Username", 40, "L"},
}

func build(d Data) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Prediction Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Date range: %s", d.Range.Label())), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s UTC", d.GeneratedAt.UTC().Format("2006-01-02 15:04:05")), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	section(pdf, "User Statistics")
	line(pdf, fmt.Sprintf("Total users: %d", d.Users.Total))
	line(pdf, fmt.Sprintf("Admins: %d (%d%%)", d.Users.Admins, d.Users.AdminPercentage))
	line(pdf, fmt.Sprintf("Users: %d (%d%%)", d.Users.Users, d.Users.UserPercentage))
	pdf.Ln(3)

	section(pdf, "Results Summary")
	line(pdf, fmt.Sprintf("Total results: %d", d.Total))
	for _, l := range d.Labels {
		ensureSpace(pdf, rowHeight, nil)
		line(pdf, tr(fmt.Sprintf("%s: %d (%.2f%%)", l.Prediction, l.Count, l.Percentage)))
	}
	pdf.Ln(3)

	limit := d.TableRows
	if limit <= 0 {
		limit = DefaultTableRows
	}
	rows := d.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}

	ensureSpace(pdf, 2*rowHeight+8, nil)
	section(pdf, "Detailed Results")
	tableHeader(pdf)
	pdf.SetFont("Helvetica", "", 9)
	for _, r := range rows {
		ensureSpace(pdf, rowHeight, func() {
			tableHeader(pdf)
			pdf.SetFont("Helvetica", "", 9)
		})
		cells := []string{
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			tr(r.Prediction),
			fmt.Sprintf("%.2f", r.Confidence),
			tr(r.Username),
		}
		for i, c := range columns {
			pdf.CellFormat(c.width, rowHeight, cells[i], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(rowHeight)
	}

	if len(d.Rows) > limit {
		ensureSpace(pdf, rowHeight, nil)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, rowHeight, fmt.Sprintf("Showing the first %d of %d results.", limit, len(d.Rows)), "", 1, "L", false, 0, "")
	}
	return pdf
}

// ensureSpace 在剩余高度不足时换页，并执行 onNewPage（用于重复表头）。
func ensureSpace(pdf *fpdf.Fpdf, h float64, onNewPage func()) {
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+h <= pageH-bottom {
		return
	}
	pdf.AddPage()
	if onNewPage != nil {
		onNewPage()
	}
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
}

func line(pdf *fpdf.Fpdf, text string) {
	pdf.CellFormat(0, 6, text, "", 1, "L", false, 0, "")
}

func tableHeader(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range columns {
		pdf.CellFormat(c.width, rowHeight, c.title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(rowHeight)
}
