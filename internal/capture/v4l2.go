package capture

// V4L2Name is the backend name of direct Video4Linux2 capture.
const V4L2Name = "v4l2"
