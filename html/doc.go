package html

// html is responsible for generating the HTML and text bodies the demo
// messages carry, and for finding the cid: references an HTML body makes to
// inline attachments. It's not concerned with MIME or with sending mail, so
// the generated markup can be used for other purposes too.
