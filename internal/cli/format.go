package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"mailfolders/internal/folder"
	"mailfolders/internal/listing"
)

func printFolders(out io.Writer, folders []folder.Folder) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSUBSCRIBED\tATTRIBUTES")
	for _, f := range folders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.FullName, f.Kind, f.Subscribed, strings.Join(f.Attributes.ToSlice(), " "))
	}
	_ = tw.Flush()
}

// printTree prints a depth-first folder listing indented by depth below the first folder's
// parent.
func printTree(out io.Writer, folders []folder.Folder) {
	depth := make(map[string]int, len(folders))
	for _, f := range folders {
		d, ok := depth[f.Parent]
		if !ok {
			d = -1
		}
		depth[f.FullName] = d + 1

		label := f.FullName
		if f.Separator != 0 {
			label = label[strings.LastIndex(label, string(f.Separator))+1:]
		}

		var marks []string
		if f.Dummy() {
			marks = append(marks, "placeholder")
		}
		if f.Namespace {
			marks = append(marks, "namespace")
		}
		if !f.CanOpen {
			marks = append(marks, "noselect")
		}
		if len(marks) > 0 {
			label += " [" + strings.Join(marks, ",") + "]"
		}

		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth[f.FullName]), label)
	}
}

func printFolder(out io.Writer, f folder.Folder) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", f.FullName)
	fmt.Fprintf(tw, "Kind:\t%s\n", f.Kind)
	if f.Kind != folder.Absent {
		fmt.Fprintf(tw, "Separator:\t%s\n", separatorString(f.Separator))
		fmt.Fprintf(tw, "Parent:\t%s\n", f.Parent)
		fmt.Fprintf(tw, "Children:\t%s\n", strings.Join(f.Children, ", "))
		fmt.Fprintf(tw, "Attributes:\t%s\n", strings.Join(f.Attributes.ToSlice(), " "))
		fmt.Fprintf(tw, "Selectable:\t%t\n", f.CanOpen)
		fmt.Fprintf(tw, "Inferiors:\t%t\n", f.HasInferiors)
		fmt.Fprintf(tw, "Has children:\t%s\n", f.HasChildren)
		fmt.Fprintf(tw, "Namespace:\t%t\n", f.Namespace)
		fmt.Fprintf(tw, "Subscribed:\t%s\n", f.Subscribed)
	}
	if f.Counts.Known() {
		fmt.Fprintf(tw, "Messages:\t%d (%d new, %d unread)\n", f.Counts.Total, f.Counts.New, f.Counts.Unread)
	}
	if f.Rights != "" {
		fmt.Fprintf(tw, "Rights:\t%s\n", f.Rights)
	}
	_ = tw.Flush()
}

func printCounts(out io.Writer, name string, counts listing.Counts) {
	fmt.Fprintf(out, "%s: %d messages, %d new, %d unread\n", name, counts.Total, counts.New, counts.Unread)
}

func separatorString(sep rune) string {
	if sep == 0 {
		return "NIL"
	}
	return string(sep)
}
