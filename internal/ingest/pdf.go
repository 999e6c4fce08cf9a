package ingest

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFInfo describes one stored PDF part and its cumulative page range.
type PDFInfo struct {
	Path      string // Full path to the PDF
	StartPage int    // First page number (1-indexed, cumulative across parts)
	EndPage   int    // Last page number (inclusive)
}

// PDFList is a slice of PDFInfo with helper methods.
type PDFList []PDFInfo

// TotalPages returns the cumulative page count across all parts.
func (pdfs PDFList) TotalPages() int {
	if len(pdfs) == 0 {
		return 0
	}
	return pdfs[len(pdfs)-1].EndPage
}

// FindPDFForPage returns the PDF path and page number within that PDF
// for a given cumulative page number. Returns empty string and 0 if the
// page is out of range.
func (pdfs PDFList) FindPDFForPage(pageNum int) (pdfPath string, pageInPDF int) {
	for _, pdf := range pdfs {
		if pageNum >= pdf.StartPage && pageNum <= pdf.EndPage {
			return pdf.Path, pageNum - pdf.StartPage + 1
		}
	}
	return "", 0
}

// buildPDFList counts pages in each part and assigns cumulative ranges.
// Paths must already be in part order.
func buildPDFList(paths []string) (PDFList, error) {
	var pdfs PDFList
	cumulativePage := 1

	for _, pdfPath := range paths {
		f, err := os.Open(pdfPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open PDF %s: %w", pdfPath, err)
		}
		pageCount, err := api.PageCount(f, nil)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to get page count for %s: %w", pdfPath, err)
		}

		pdfs = append(pdfs, PDFInfo{
			Path:      pdfPath,
			StartPage: cumulativePage,
			EndPage:   cumulativePage + pageCount - 1,
		})
		cumulativePage += pageCount
	}

	return pdfs, nil
}

// renderPages renders every page across all parts to outDir as
// page_NNNN.png, fanning out across CPUs.
func renderPages(pdfs PDFList, outDir string) error {
	total := pdfs.TotalPages()
	maxWorkers := runtime.NumCPU()

	type result struct {
		pageNum int
		err     error
	}

	results := make(chan result, total)
	sem := make(chan struct{}, maxWorkers)

	for page := 1; page <= total; page++ {
		sem <- struct{}{} // acquire
		go func(pageNum int) {
			defer func() { <-sem }() // release

			pdfPath, pageInPDF := pdfs.FindPDFForPage(pageNum)
			results <- result{pageNum: pageNum, err: renderPage(pdfPath, outDir, pageInPDF, pageNum)}
		}(page)
	}

	for i := 0; i < total; i++ {
		r := <-results
		if r.err != nil {
			return fmt.Errorf("failed to render page %d: %w", r.pageNum, r.err)
		}
	}
	return nil
}

// renderPage renders a single page from a PDF using pdftoppm (poppler-utils).
func renderPage(pdfPath, outDir string, pageInPDF, outputPageNum int) error {
	tmpDir, err := os.MkdirTemp("", "folio-page-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	// -png: output PNG format
	// -f N / -l N: first and last page to render
	// -r 300: resolution in DPI
	// -singlefile: don't add page number suffix
	pageStr := strconv.Itoa(pageInPDF)
	cmd := exec.Command("pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", "300",
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	// pdftoppm with -singlefile creates: <prefix>.png
	srcPath := outputPrefix + ".png"
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	dstPath := filepath.Join(outDir, PageImageName(outputPageNum))
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}
	return nil
}

// PageImageName returns the file name for a rendered page image.
func PageImageName(pageNum int) string {
	return fmt.Sprintf("page_%04d.png", pageNum)
}

// sortPDFsByNumber sorts PDF paths by their numeric suffix.
// e.g., ["book-2.pdf", "book-1.pdf", "book-10.pdf"] -> ["book-1.pdf", "book-2.pdf", "book-10.pdf"]
func sortPDFsByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	re := regexp.MustCompile(`-(\d+)\.pdf$`)

	sort.Slice(sorted, func(i, j int) bool {
		mi := re.FindStringSubmatch(sorted[i])
		mj := re.FindStringSubmatch(sorted[j])

		// If both have numbers, sort numerically
		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			return ni < nj
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}

		// Both without numbers: alphabetical
		return sorted[i] < sorted[j]
	})

	return sorted
}

// deriveTitle extracts a title from a PDF filename.
// e.g., "operative-neurosurgery-1.pdf" -> "operative-neurosurgery"
func deriveTitle(pdfPath string) string {
	base := filepath.Base(pdfPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	// Remove part suffix like "-1", "-2", etc.
	re := regexp.MustCompile(`-\d+$`)
	return re.ReplaceAllString(name, "")
}
