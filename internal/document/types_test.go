package document

import "testing"

func TestFormatFromName(t *testing.T) {
	cases := []struct {
		name   string
		format Format
		ok     bool
	}{
		{"report.pdf", FormatPDF, true},
		{"Report.PDF", FormatPDF, true},
		{"contract.docx", FormatDOCX, true},
		{"legacy.doc", FormatDOC, true},
		{"sheet.xlsx", FormatXLSX, true},
		{"old-sheet.xls", FormatXLS, true},
		{"scan.jpeg", FormatJPEG, true},
		{"scan.jpg", FormatJPG, true},
		{"logo.png", FormatPNG, true},
		{"archive.tar.gz", "", false},
		{"notes.txt", "", false},
		{"noextension", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		format, err := FormatFromName(tc.name)
		if tc.ok {
			if err != nil {
				t.Errorf("FormatFromName(%q) returned error: %v", tc.name, err)
				continue
			}
			if format != tc.format {
				t.Errorf("FormatFromName(%q) = %q, want %q", tc.name, format, tc.format)
			}
			continue
		}
		if err == nil {
			t.Errorf("FormatFromName(%q) = %q, want error", tc.name, format)
		}
	}
}

func TestFormatIsConvertible(t *testing.T) {
	convertible := []Format{FormatDOC, FormatDOCX, FormatXLS, FormatXLSX, FormatJPG, FormatJPEG, FormatPNG}
	for _, f := range convertible {
		if !f.IsConvertible() {
			t.Errorf("%q should be convertible", f)
		}
	}
	if FormatPDF.IsConvertible() {
		t.Error("pdf should not be convertible")
	}
}

func TestFilePath(t *testing.T) {
	got := FilePath("/data/media", "owner-1", "doc-2", FormatDOCX)
	want := "/data/media/owner-1/doc-2.docx"
	if got != want {
		t.Errorf("FilePath = %q, want %q", got, want)
	}
}

func TestPreviewPath(t *testing.T) {
	got := PreviewPath("/data/media", "owner-1", "doc-2", 3)
	want := "/data/media/owner-1/previews/doc-2/3.png"
	if got != want {
		t.Errorf("PreviewPath = %q, want %q", got, want)
	}
}

func TestLinks(t *testing.T) {
	if got, want := FileLink("/media/", "o", "d", FormatPDF), "/media/o/d.pdf"; got != want {
		t.Errorf("FileLink = %q, want %q", got, want)
	}
	if got, want := PreviewLink("/media", "o", "d", 1), "/media/o/previews/d/1.png"; got != want {
		t.Errorf("PreviewLink = %q, want %q", got, want)
	}
}
