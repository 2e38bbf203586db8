package commands

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/czbiohub/imagingdb/pkg/uploader"
)

func TestPrintResultsStreams(t *testing.T) {
	cmd := &cobra.Command{}
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	failed := printResults(cmd, []uploader.Result{
		{Serial: "ISP-2021-06-09-10-00-00-0001", State: uploader.StateCataloged},
		{Serial: "ISP-2021-06-09-10-00-00-0002", State: uploader.StateFailed, Err: errors.New("no such file")},
		{Serial: "ISP-2021-06-09-10-00-00-0003", State: uploader.StateCataloged},
	})
	assert.Equal(t, 1, failed)

	// Successful rows go to stdout, failed rows one line each to stderr.
	assert.Equal(t,
		"ISP-2021-06-09-10-00-00-0001  cataloged\nISP-2021-06-09-10-00-00-0003  cataloged\n",
		out.String())
	assert.Equal(t,
		"ISP-2021-06-09-10-00-00-0002  failed: no such file\n",
		errOut.String())
}
